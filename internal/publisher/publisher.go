package publisher

import (
	"context"
	"errors"

	"github.com/blockedby/tgparser/internal/cache"
	"github.com/blockedby/tgparser/internal/parser"
)

// CacheInvalidator drops a user's cached listings once a parse finishes,
// whatever the outcome: a failed re-parse may already have deleted the
// previous group.
type CacheInvalidator struct {
	cache cache.Cache
}

// NewCacheInvalidator creates an invalidator over c.
func NewCacheInvalidator(c cache.Cache) *CacheInvalidator {
	return &CacheInvalidator{cache: c}
}

// PublishParseEvent implements parser.EventPublisher.
func (i *CacheInvalidator) PublishParseEvent(ctx context.Context, ev parser.ParseEvent) error {
	if ev.Status == parser.EventStarted {
		return nil
	}
	return i.cache.InvalidateUser(ctx, ev.UserID)
}

// Multi fans an event out to several publishers. Every publisher is called;
// the errors are joined.
type Multi []parser.EventPublisher

// PublishParseEvent implements parser.EventPublisher.
func (m Multi) PublishParseEvent(ctx context.Context, ev parser.ParseEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.PublishParseEvent(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
