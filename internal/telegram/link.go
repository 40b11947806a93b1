package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/tg"

	"github.com/blockedby/tgparser/internal/logger"
)

// Credential selects how a Link authenticates. A session string always wins
// over a bot token.
type Credential struct {
	Session  string
	BotToken string
}

// Kind returns "session", "bot" or "" for an empty credential.
func (c Credential) Kind() string {
	switch {
	case c.Session != "":
		return "session"
	case c.BotToken != "":
		return "bot"
	default:
		return ""
	}
}

// Conn is an open MTProto connection.
type Conn interface {
	API() *tg.Client
	Stop()
}

// Dialer opens a connection for a credential.
type Dialer func(ctx context.Context, cred Credential) (Conn, error)

// GotgprotoDialer returns a Dialer backed by in-memory gotgproto clients.
func GotgprotoDialer(apiID int, apiHash string) Dialer {
	return func(ctx context.Context, cred Credential) (Conn, error) {
		type result struct {
			client *gotgproto.Client
			err    error
		}
		done := make(chan result, 1)

		// gotgproto.NewClient blocks until the client is authorized and has
		// no context parameter, so it runs aside and is stopped if ctx ends first.
		go func() {
			c, err := newGotgprotoClient(apiID, apiHash, cred)
			done <- result{c, err}
		}()

		select {
		case r := <-done:
			if r.err != nil {
				return nil, r.err
			}
			return r.client, nil
		case <-ctx.Done():
			go func() {
				if r := <-done; r.client != nil {
					r.client.Stop()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

func newGotgprotoClient(apiID int, apiHash string, cred Credential) (*gotgproto.Client, error) {
	switch cred.Kind() {
	case "session":
		sess, err := sessionConstructor(cred.Session)
		if err != nil {
			return nil, err
		}
		return gotgproto.NewClient(apiID, apiHash, gotgproto.ClientTypePhone(""), &gotgproto.ClientOpts{
			Session:          sess,
			InMemory:         true,
			DisableCopyright: true,
		})
	case "bot":
		return gotgproto.NewClient(apiID, apiHash, gotgproto.ClientTypeBot(cred.BotToken), &gotgproto.ClientOpts{
			InMemory:         true,
			DisableCopyright: true,
		})
	default:
		return nil, ErrNotConfigured
	}
}

// Link owns one connection for the duration of an operation.
type Link struct {
	dial Dialer
	cred Credential
	opts APIOptions
	log  *logger.Logger

	mu   sync.Mutex
	conn Conn
	api  *API
}

// NewLink prepares a link; nothing is dialed until Connect.
func NewLink(dial Dialer, cred Credential, opts APIOptions) *Link {
	opts = opts.withDefaults()
	return &Link{
		dial: dial,
		cred: cred,
		opts: opts,
		log:  opts.Logger.Component("telegram"),
	}
}

// Credential returns the credential the link uses.
func (l *Link) Credential() Credential {
	return l.cred
}

// Connect dials with the session string if set, otherwise the bot token.
// Calling Connect on a connected link returns the existing API.
func (l *Link) Connect(ctx context.Context) (*API, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.api != nil {
		return l.api, nil
	}

	cred := l.cred
	switch cred.Kind() {
	case "session":
		cred.BotToken = ""
	case "bot":
	default:
		return nil, fmt.Errorf("%w: no session string or bot token", ErrNotConfigured)
	}

	l.log.Debug().Str("credential", cred.Kind()).Msg("telegram: connecting")
	conn, err := l.dial(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("connect telegram (%s): %w", cred.Kind(), err)
	}

	l.conn = conn
	l.api = NewAPI(conn.API(), l.opts)
	return l.api, nil
}

// API returns the connected API or ErrNotConnected.
func (l *Link) API() (*API, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.api == nil {
		return nil, ErrNotConnected
	}
	return l.api, nil
}

// Disconnect closes the connection. It is safe to call repeatedly and on a
// link that never connected.
func (l *Link) Disconnect() {
	l.mu.Lock()
	conn := l.conn
	l.conn, l.api = nil, nil
	l.mu.Unlock()

	if conn != nil {
		conn.Stop()
		l.log.Debug().Msg("telegram: disconnected")
	}
}
