package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgparser/internal/cache"
	"github.com/blockedby/tgparser/internal/parser"
)

// MockNATSClient mocks the nats client operations we need
type MockNATSClient struct {
	PublishedSubject string
	PublishedData    []byte
	PublishError     error
}

func (m *MockNATSClient) Publish(_ context.Context, subject string, data any) error {
	m.PublishedSubject = subject
	m.PublishedData, _ = json.Marshal(data)
	return m.PublishError
}

func TestNATSPublisher_PublishParseEvent(t *testing.T) {
	mock := &MockNATSClient{}
	pub := NewNATSPublisher(mock)

	ev := parser.ParseEvent{
		OperationID: uuid.NewString(),
		UserID:      7,
		GroupID:     3,
		Status:      parser.EventCompleted,
		Members:     120,
		Timestamp:   time.Now(),
	}
	require.NoError(t, pub.PublishParseEvent(context.Background(), ev))

	assert.Equal(t, "parse.completed", mock.PublishedSubject)
	var got map[string]any
	require.NoError(t, json.Unmarshal(mock.PublishedData, &got))
	assert.Equal(t, ev.OperationID, got["operation_id"])
	assert.EqualValues(t, 120, got["members"])
	assert.NotContains(t, got, "error")
}

func TestNATSPublisher_Error(t *testing.T) {
	mock := &MockNATSClient{PublishError: errors.New("no responders")}
	err := NewNATSPublisher(mock).PublishParseEvent(context.Background(), parser.ParseEvent{Status: parser.EventFailed})
	assert.ErrorIs(t, err, mock.PublishError)
	assert.Equal(t, "parse.failed", mock.PublishedSubject)
}

func TestCacheInvalidator(t *testing.T) {
	ctx := context.Background()
	c := cache.NewMemory(0)
	require.NoError(t, c.Set(ctx, cache.GroupsKey(7, 1, 50), 1))
	inv := NewCacheInvalidator(c)

	require.NoError(t, inv.PublishParseEvent(ctx, parser.ParseEvent{UserID: 7, Status: parser.EventStarted}))
	assert.Equal(t, 1, c.Len(), "start keeps the cache")

	require.NoError(t, inv.PublishParseEvent(ctx, parser.ParseEvent{UserID: 7, Status: parser.EventCancelled}))
	assert.Zero(t, c.Len())
}

type countingPublisher struct {
	calls int
	err   error
}

func (p *countingPublisher) PublishParseEvent(context.Context, parser.ParseEvent) error {
	p.calls++
	return p.err
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	a, b := &countingPublisher{err: boom}, &countingPublisher{}

	err := Multi{a, nil, b}.PublishParseEvent(context.Background(), parser.ParseEvent{})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 1, b.calls, "later publishers still run")
}
