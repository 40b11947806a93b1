package telegram

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/gotd/td/tg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	stops atomic.Int32
}

func (c *fakeConn) API() *tg.Client { return newFakeInvoker().client() }
func (c *fakeConn) Stop()           { c.stops.Add(1) }

type recordingDialer struct {
	conn  *fakeConn
	err   error
	calls []Credential
}

func (d *recordingDialer) dial(_ context.Context, cred Credential) (Conn, error) {
	d.calls = append(d.calls, cred)
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func TestLink_SessionTakesPriority(t *testing.T) {
	d := &recordingDialer{conn: &fakeConn{}}
	l := NewLink(d.dial, Credential{Session: "sess", BotToken: "tok"}, APIOptions{})

	api, err := l.Connect(context.Background())
	require.NoError(t, err)
	require.NotNil(t, api)

	require.Len(t, d.calls, 1)
	assert.Equal(t, "sess", d.calls[0].Session)
	assert.Empty(t, d.calls[0].BotToken)
	assert.Equal(t, "session", d.calls[0].Kind())
}

func TestLink_BotToken(t *testing.T) {
	d := &recordingDialer{conn: &fakeConn{}}
	l := NewLink(d.dial, Credential{BotToken: "tok"}, APIOptions{})

	_, err := l.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "bot", d.calls[0].Kind())
}

func TestLink_NoCredential(t *testing.T) {
	d := &recordingDialer{conn: &fakeConn{}}
	l := NewLink(d.dial, Credential{}, APIOptions{})

	_, err := l.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Empty(t, d.calls, "nothing dialed")
}

func TestLink_ConnectIdempotent(t *testing.T) {
	d := &recordingDialer{conn: &fakeConn{}}
	l := NewLink(d.dial, Credential{BotToken: "tok"}, APIOptions{})

	a1, err := l.Connect(context.Background())
	require.NoError(t, err)
	a2, err := l.Connect(context.Background())
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Len(t, d.calls, 1)
}

func TestLink_DialError(t *testing.T) {
	boom := errors.New("network down")
	d := &recordingDialer{err: boom}
	l := NewLink(d.dial, Credential{BotToken: "tok"}, APIOptions{})

	_, err := l.Connect(context.Background())
	assert.ErrorIs(t, err, boom)

	_, err = l.API()
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestLink_DisconnectIdempotent(t *testing.T) {
	conn := &fakeConn{}
	d := &recordingDialer{conn: conn}
	l := NewLink(d.dial, Credential{BotToken: "tok"}, APIOptions{})

	// never connected
	l.Disconnect()

	_, err := l.Connect(context.Background())
	require.NoError(t, err)

	api, err := l.API()
	require.NoError(t, err)
	assert.NotNil(t, api)

	l.Disconnect()
	l.Disconnect()
	assert.Equal(t, int32(1), conn.stops.Load())

	_, err = l.API()
	assert.ErrorIs(t, err, ErrNotConnected)
}
