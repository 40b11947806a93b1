package telegram

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotConfigured means no usable credential (session or bot token) exists.
	ErrNotConfigured = errors.New("telegram credentials not configured")
	// ErrNoActiveSession is returned when a user has no active saved session.
	ErrNoActiveSession = fmt.Errorf("%w: no active telegram session for user", ErrNotConfigured)
	// ErrEntityNotFound means neither direct lookup nor the dialog scan matched.
	ErrEntityNotFound = errors.New("telegram entity not found")
	// ErrInvalidIdentifier is returned for links that cannot name a public entity.
	ErrInvalidIdentifier = errors.New("invalid group or channel identifier")
	// ErrInvalidSession is returned for undecodable session strings.
	ErrInvalidSession = errors.New("invalid telegram session string")
	// ErrNotConnected is returned by Link operations before Connect.
	ErrNotConnected = errors.New("telegram link is not connected")
)

// RateLimitError is a FLOOD_WAIT reported by Telegram.
type RateLimitError struct {
	Method string
	Wait   time.Duration
	Err    error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("telegram: %s rate limited, retry after %s", e.Method, e.Wait)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// AsRateLimit extracts a RateLimitError from an error chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
