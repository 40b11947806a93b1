package parser

import (
	"context"
	"strings"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/telegram"
)

// LookupResult describes a public group or channel.
type LookupResult struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Username    string `json:"username,omitempty"`
	Kind        string `json:"kind"`
	IsChannel   bool   `json:"is_channel"`
	IsPublic    bool   `json:"is_public"`
	MemberCount int    `json:"member_count"`
	About       string `json:"about,omitempty"`
}

// Lookup resolves public entities with bot credentials, rotating tokens on
// rate limits.
type Lookup struct {
	retry     *RotatingRetry
	connector Connector
	log       *logger.Logger
}

// NewLookup creates a public lookup service.
func NewLookup(pool BotPool, connector Connector, log *logger.Logger) *Lookup {
	if log == nil {
		log = logger.Get()
	}
	return &Lookup{
		retry:     NewRotatingRetry(pool, log),
		connector: connector,
		log:       log.Component("lookup"),
	}
}

// Lookup resolves link and fetches its participant count.
func (l *Lookup) Lookup(ctx context.Context, link string) (*LookupResult, error) {
	link = strings.TrimSpace(link)
	if link == "" {
		return nil, ErrLinkRequired
	}
	if _, err := telegram.ParseIdentifier(link); err != nil {
		return nil, err
	}

	var res *LookupResult
	err := l.retry.Do(ctx, func(ctx context.Context, cred telegram.Credential) error {
		api, release, err := l.connector.Connect(ctx, cred)
		if err != nil {
			return err
		}
		defer release()

		e, isChannel, err := telegram.NewResolver(api, l.log).Resolve(ctx, link)
		if err != nil {
			return err
		}
		if !e.IsGroupLike() {
			return ErrUnsupportedEntity
		}
		info, err := api.FullInfo(ctx, e)
		if err != nil {
			return err
		}

		res = &LookupResult{
			ID:          e.ID,
			Title:       e.Title,
			Username:    e.Username,
			Kind:        e.Kind.String(),
			IsChannel:   isChannel,
			IsPublic:    e.IsPublic(),
			MemberCount: info.ParticipantsCount,
			About:       info.About,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
