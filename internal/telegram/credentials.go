package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blockedby/tgparser/internal/models"
)

// SessionSource looks up saved user sessions. It returns (nil, nil) when the
// user has no active session.
type SessionSource interface {
	GetActiveSessionForUser(ctx context.Context, userID uint) (*models.TelegramSession, error)
}

// CredentialPool hands out bot tokens round-robin and resolves user sessions.
// The token list is parsed once, on first use.
type CredentialPool struct {
	raw      string
	sessions SessionSource

	once   sync.Once
	tokens []string

	mu     sync.Mutex
	cursor int
}

// NewCredentialPool creates a pool from a comma-separated token list.
func NewCredentialPool(rawTokens string, sessions SessionSource) *CredentialPool {
	return &CredentialPool{raw: rawTokens, sessions: sessions}
}

func (p *CredentialPool) load() {
	p.once.Do(func() {
		for _, t := range strings.Split(p.raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				p.tokens = append(p.tokens, t)
			}
		}
	})
}

// Len returns the number of configured bot tokens.
func (p *CredentialPool) Len() int {
	p.load()
	return len(p.tokens)
}

// NextBotToken returns the next token, wrapping around at the end of the list.
func (p *CredentialPool) NextBotToken() (string, error) {
	p.load()
	if len(p.tokens) == 0 {
		return "", fmt.Errorf("%w: TELEGRAM_BOT_TOKENS is empty", ErrNotConfigured)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.tokens[p.cursor]
	p.cursor = (p.cursor + 1) % len(p.tokens)
	return t, nil
}

// NextBot returns the next bot token wrapped as a credential.
func (p *CredentialPool) NextBot() (Credential, error) {
	t, err := p.NextBotToken()
	if err != nil {
		return Credential{}, err
	}
	return Credential{BotToken: t}, nil
}

// SessionFor returns the user's active session credential.
func (p *CredentialPool) SessionFor(ctx context.Context, userID uint) (Credential, error) {
	if p.sessions == nil {
		return Credential{}, ErrNoActiveSession
	}
	sess, err := p.sessions.GetActiveSessionForUser(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("lookup session: %w", err)
	}
	if sess == nil || !sess.IsActive || sess.SessionString == "" {
		return Credential{}, ErrNoActiveSession
	}
	return Credential{Session: sess.SessionString}, nil
}
