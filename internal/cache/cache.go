// Package cache provides a read-through cache for per-user API listings.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/blockedby/tgparser/internal/logger"
)

// Cache stores JSON-encoded values under per-user keys.
type Cache interface {
	// Get decodes the cached value into dst. It reports false on a miss.
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any) error
	// InvalidateUser drops every key that belongs to userID.
	InvalidateUser(ctx context.Context, userID uint) error
}

const keyPrefix = "tgparser"

func userPrefix(userID uint) string {
	return fmt.Sprintf("%s:u:%d:", keyPrefix, userID)
}

// GroupsKey names one page of a user's group list.
func GroupsKey(userID uint, page, size int) string {
	return fmt.Sprintf("%sgroups:%d:%d", userPrefix(userID), page, size)
}

// MembersKey names one page of a group's member list.
func MembersKey(userID, groupID uint, page, size int) string {
	return fmt.Sprintf("%smembers:%d:%d:%d", userPrefix(userID), groupID, page, size)
}

// Fetch returns the cached value for key or loads and stores it. Cache
// failures are logged and fall through to load.
func Fetch[T any](ctx context.Context, c Cache, key string, load func(ctx context.Context) (T, error)) (T, error) {
	log := logger.Get().Component("cache")

	var v T
	hit, err := c.Get(ctx, key, &v)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	} else if hit {
		return v, nil
	}

	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
	return v, nil
}

// Memory is an in-process Cache used when no redis is configured.
// thread-safe
type Memory struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	data    []byte
	user    string
	expires time.Time
}

// NewMemory creates an in-process cache. A zero ttl keeps entries until
// they are invalidated.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now, items: map[string]memoryItem{}}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string, dst any) (bool, error) {
	m.mu.Lock()
	item, ok := m.items[key]
	if ok && !item.expires.IsZero() && m.now().After(item.expires) {
		delete(m.items, key)
		ok = false
	}
	m.mu.Unlock()

	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(item.data, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}

	item := memoryItem{data: data, user: ownerOf(key)}
	if m.ttl > 0 {
		item.expires = m.now().Add(m.ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

// InvalidateUser implements Cache.
func (m *Memory) InvalidateUser(_ context.Context, userID uint) error {
	prefix := userPrefix(userID)

	m.mu.Lock()
	defer m.mu.Unlock()
	for k, item := range m.items {
		if item.user == prefix {
			delete(m.items, k)
		}
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// ownerOf returns the "tgparser:u:<id>:" prefix of key, or "".
func ownerOf(key string) string {
	var id uint
	if _, err := fmt.Sscanf(key, keyPrefix+":u:%d:", &id); err != nil {
		return ""
	}
	return userPrefix(id)
}
