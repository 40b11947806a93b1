// Package telegram wraps the MTProto client used by the parser: credential
// handling, connection lifecycle, paced request primitives and entity resolution.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"

	"github.com/blockedby/tgparser/internal/logger"
)

const (
	// server-side caps per request
	maxHistoryPage      = 100
	maxParticipantsPage = 200
	dialogScanLimit     = 100
)

// lookup errors that mean "no such entity" rather than a failure
var notFoundRPCErrors = []string{
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_INVALID",
	"CHANNEL_PRIVATE",
	"CHAT_ID_INVALID",
	"PEER_ID_INVALID",
}

// APIOptions configures request pacing and flood-wait retries.
type APIOptions struct {
	Limiter *RateLimiter
	// MaxFloodWait is the longest FLOOD_WAIT that is waited out in place;
	// longer waits surface as RateLimitError.
	MaxFloodWait time.Duration
	// MaxAttempts bounds calls per request, including the first.
	MaxAttempts int
	Logger      *logger.Logger
}

func (o APIOptions) withDefaults() APIOptions {
	if o.Limiter == nil {
		o.Limiter = DefaultRateLimiter()
	}
	if o.MaxFloodWait <= 0 {
		o.MaxFloodWait = 30 * time.Second
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Logger == nil {
		o.Logger = logger.Get()
	}
	return o
}

// API exposes the request primitives the parser needs. Every call is paced by
// the rate limiter; short flood waits are retried, long ones are returned.
type API struct {
	raw  *tg.Client
	opts APIOptions
	log  *logger.Logger
}

// NewAPI wraps a raw tg client.
func NewAPI(raw *tg.Client, opts APIOptions) *API {
	opts = opts.withDefaults()
	return &API{
		raw:  raw,
		opts: opts,
		log:  opts.Logger.Component("telegram"),
	}
}

func (a *API) invoke(ctx context.Context, method string, call func(ctx context.Context) error) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := a.opts.Limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		err := call(ctx)
		if err == nil {
			return nil
		}

		wait, ok := tgerr.AsFloodWait(err)
		if !ok {
			return backoff.Permanent(err)
		}

		a.opts.Limiter.SetFloodWait(wait)
		a.log.Warn().
			Str("method", method).
			Dur("wait", wait).
			Int("attempt", attempt).
			Msg("telegram: FLOOD_WAIT")

		rl := &RateLimitError{Method: method, Wait: wait, Err: err}
		if wait > a.opts.MaxFloodWait {
			return backoff.Permanent(rl)
		}
		return rl
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(a.opts.MaxAttempts-1)),
		ctx,
	)
	return backoff.Retry(op, policy)
}

// ResolveUsername resolves a public username.
func (a *API) ResolveUsername(ctx context.Context, username string) (Entity, error) {
	var res *tg.ContactsResolvedPeer
	err := a.invoke(ctx, "contacts.resolveUsername", func(ctx context.Context) error {
		var err error
		res, err = a.raw.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{Username: username})
		return err
	})
	if err != nil {
		if tgerr.Is(err, notFoundRPCErrors...) {
			return Entity{}, fmt.Errorf("%w: @%s", ErrEntityNotFound, username)
		}
		return Entity{}, fmt.Errorf("resolve @%s: %w", username, err)
	}

	if e, ok := entityForPeer(res.Peer, res.Chats, res.Users); ok {
		return e, nil
	}
	return Entity{}, fmt.Errorf("%w: @%s", ErrEntityNotFound, username)
}

// LookupID finds a chat or channel by its bare id. The kind narrows which
// lookups are tried; KindUnknown tries channels first, then basic chats.
func (a *API) LookupID(ctx context.Context, id int64, kind EntityKind) (Entity, error) {
	if kind != KindChat {
		var res tg.MessagesChatsClass
		err := a.invoke(ctx, "channels.getChannels", func(ctx context.Context) error {
			var err error
			res, err = a.raw.ChannelsGetChannels(ctx, []tg.InputChannelClass{&tg.InputChannel{ChannelID: id}})
			return err
		})
		switch {
		case err == nil:
			if e, ok := findChat(chatsOf(res), id); ok {
				return e, nil
			}
		case !tgerr.Is(err, notFoundRPCErrors...):
			return Entity{}, fmt.Errorf("get channel %d: %w", id, err)
		}
	}

	if kind == KindUnknown || kind == KindChat {
		var res tg.MessagesChatsClass
		err := a.invoke(ctx, "messages.getChats", func(ctx context.Context) error {
			var err error
			res, err = a.raw.MessagesGetChats(ctx, []int64{id})
			return err
		})
		switch {
		case err == nil:
			if e, ok := findChat(chatsOf(res), id); ok {
				return e, nil
			}
		case !tgerr.Is(err, notFoundRPCErrors...):
			return Entity{}, fmt.Errorf("get chat %d: %w", id, err)
		}
	}

	return Entity{}, fmt.Errorf("%w: id %d", ErrEntityNotFound, id)
}

// Dialogs lists up to limit of the account's most recent dialogs.
func (a *API) Dialogs(ctx context.Context, limit int) ([]Entity, error) {
	if limit <= 0 || limit > dialogScanLimit {
		limit = dialogScanLimit
	}

	var res tg.MessagesDialogsClass
	err := a.invoke(ctx, "messages.getDialogs", func(ctx context.Context) error {
		var err error
		res, err = a.raw.MessagesGetDialogs(ctx, &tg.MessagesGetDialogsRequest{
			OffsetPeer: &tg.InputPeerEmpty{},
			Limit:      limit,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get dialogs: %w", err)
	}

	var (
		chats []tg.ChatClass
		users []tg.UserClass
	)
	switch d := res.(type) {
	case *tg.MessagesDialogs:
		chats, users = d.Chats, d.Users
	case *tg.MessagesDialogsSlice:
		chats, users = d.Chats, d.Users
	}

	out := make([]Entity, 0, len(chats)+len(users))
	for _, c := range chats {
		if e, ok := entityFromChat(c); ok {
			out = append(out, e)
		}
	}
	for _, u := range users {
		if e, ok := entityFromUser(u); ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// FullInfo fetches the participant count and description.
func (a *API) FullInfo(ctx context.Context, e Entity) (FullInfo, error) {
	var res *tg.MessagesChatFull
	var err error

	switch e.Kind {
	case KindBroadcast, KindSupergroup:
		err = a.invoke(ctx, "channels.getFullChannel", func(ctx context.Context) error {
			var err error
			res, err = a.raw.ChannelsGetFullChannel(ctx, e.InputChannel())
			return err
		})
	case KindChat:
		err = a.invoke(ctx, "messages.getFullChat", func(ctx context.Context) error {
			var err error
			res, err = a.raw.MessagesGetFullChat(ctx, e.ID)
			return err
		})
	default:
		return FullInfo{}, fmt.Errorf("full info: unsupported entity kind %s", e.Kind)
	}
	if err != nil {
		return FullInfo{}, fmt.Errorf("get full info %d: %w", e.ID, err)
	}

	switch full := res.FullChat.(type) {
	case *tg.ChannelFull:
		return FullInfo{ParticipantsCount: full.ParticipantsCount, About: full.About}, nil
	case *tg.ChatFull:
		info := FullInfo{About: full.About}
		if parts, ok := full.Participants.(*tg.ChatParticipants); ok {
			info.ParticipantsCount = len(parts.Participants)
		}
		return info, nil
	}
	return FullInfo{}, nil
}

// Participants returns one page of members. Basic chats return all members
// on the first page.
func (a *API) Participants(ctx context.Context, e Entity, filter ParticipantFilter, offset, limit int) (ParticipantPage, error) {
	if limit <= 0 || limit > maxParticipantsPage {
		limit = maxParticipantsPage
	}

	switch e.Kind {
	case KindBroadcast, KindSupergroup:
		return a.channelParticipants(ctx, e, filter, offset, limit)
	case KindChat:
		if offset > 0 {
			return ParticipantPage{}, nil
		}
		return a.chatParticipants(ctx, e, filter)
	default:
		return ParticipantPage{}, fmt.Errorf("participants: unsupported entity kind %s", e.Kind)
	}
}

func (a *API) channelParticipants(ctx context.Context, e Entity, filter ParticipantFilter, offset, limit int) (ParticipantPage, error) {
	var f tg.ChannelParticipantsFilterClass = &tg.ChannelParticipantsRecent{}
	if filter == FilterAdmins {
		f = &tg.ChannelParticipantsAdmins{}
	}

	var res tg.ChannelsChannelParticipantsClass
	err := a.invoke(ctx, "channels.getParticipants", func(ctx context.Context) error {
		var err error
		res, err = a.raw.ChannelsGetParticipants(ctx, &tg.ChannelsGetParticipantsRequest{
			Channel: e.InputChannel(),
			Filter:  f,
			Offset:  offset,
			Limit:   limit,
		})
		return err
	})
	if err != nil {
		return ParticipantPage{}, fmt.Errorf("get participants %d: %w", e.ID, err)
	}

	parts, ok := res.(*tg.ChannelsChannelParticipants)
	if !ok {
		return ParticipantPage{}, nil
	}
	page := ParticipantPage{Total: parts.Count}
	for _, u := range parts.Users {
		if usr, ok := userFrom(u); ok {
			page.Users = append(page.Users, usr)
		}
	}
	return page, nil
}

func (a *API) chatParticipants(ctx context.Context, e Entity, filter ParticipantFilter) (ParticipantPage, error) {
	var res *tg.MessagesChatFull
	err := a.invoke(ctx, "messages.getFullChat", func(ctx context.Context) error {
		var err error
		res, err = a.raw.MessagesGetFullChat(ctx, e.ID)
		return err
	})
	if err != nil {
		return ParticipantPage{}, fmt.Errorf("get chat participants %d: %w", e.ID, err)
	}

	full, ok := res.FullChat.(*tg.ChatFull)
	if !ok {
		return ParticipantPage{}, nil
	}
	parts, ok := full.Participants.(*tg.ChatParticipants)
	if !ok {
		// participant list hidden from this account
		return ParticipantPage{}, nil
	}

	users := usersByID(res.Users)
	var page ParticipantPage
	for _, p := range parts.Participants {
		var id int64
		admin := false
		switch cp := p.(type) {
		case *tg.ChatParticipant:
			id = cp.UserID
		case *tg.ChatParticipantAdmin:
			id, admin = cp.UserID, true
		case *tg.ChatParticipantCreator:
			id, admin = cp.UserID, true
		default:
			continue
		}
		if filter == FilterAdmins && !admin {
			continue
		}
		if usr, ok := users[id]; ok {
			page.Users = append(page.Users, usr)
		}
	}
	page.Total = len(page.Users)
	return page, nil
}

// History returns up to limit messages older than offsetID (0 = newest).
func (a *API) History(ctx context.Context, e Entity, offsetID, limit int) (MessagePage, error) {
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}

	var res tg.MessagesMessagesClass
	err := a.invoke(ctx, "messages.getHistory", func(ctx context.Context) error {
		var err error
		res, err = a.raw.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:     e.InputPeer(),
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return MessagePage{}, fmt.Errorf("get history %d: %w", e.ID, err)
	}
	return messagePageFrom(res), nil
}

// Replies returns one page of the discussion thread under msgID.
func (a *API) Replies(ctx context.Context, e Entity, msgID, offsetID, limit int) (MessagePage, error) {
	if limit <= 0 || limit > maxHistoryPage {
		limit = maxHistoryPage
	}

	var res tg.MessagesMessagesClass
	err := a.invoke(ctx, "messages.getReplies", func(ctx context.Context) error {
		var err error
		res, err = a.raw.MessagesGetReplies(ctx, &tg.MessagesGetRepliesRequest{
			Peer:     e.InputPeer(),
			MsgID:    msgID,
			OffsetID: offsetID,
			Limit:    limit,
		})
		return err
	})
	if err != nil {
		return MessagePage{}, fmt.Errorf("get replies %d/%d: %w", e.ID, msgID, err)
	}
	return messagePageFrom(res), nil
}

func chatsOf(res tg.MessagesChatsClass) []tg.ChatClass {
	switch r := res.(type) {
	case *tg.MessagesChats:
		return r.Chats
	case *tg.MessagesChatsSlice:
		return r.Chats
	}
	return nil
}

func findChat(chats []tg.ChatClass, id int64) (Entity, bool) {
	for _, c := range chats {
		if e, ok := entityFromChat(c); ok && e.ID == id {
			return e, true
		}
	}
	return Entity{}, false
}

func entityForPeer(peer tg.PeerClass, chats []tg.ChatClass, users []tg.UserClass) (Entity, bool) {
	switch p := peer.(type) {
	case *tg.PeerChannel:
		return findChat(chats, p.ChannelID)
	case *tg.PeerChat:
		return findChat(chats, p.ChatID)
	case *tg.PeerUser:
		for _, u := range users {
			if e, ok := entityFromUser(u); ok && e.ID == p.UserID {
				return e, true
			}
		}
	}
	return Entity{}, false
}
