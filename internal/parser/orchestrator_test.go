package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/repository"
	"github.com/blockedby/tgparser/internal/telegram"
)

func groupClient() *fakeClient {
	return &fakeClient{
		entity:  supergroup,
		info:    telegram.FullInfo{ParticipantsCount: 300},
		admins:  []telegram.User{{ID: 5, Username: "admin"}},
		members: makeUsers(1, 300),
	}
}

func TestParse_MembersSuccess(t *testing.T) {
	env := newEnv(t, groupClient())
	env.addSession(t, 1)
	tr := env.begin(t, 1)
	ctx := context.Background()

	g, err := env.orch.Parse(ctx, ParseRequest{UserID: 1, Link: "https://t.me/gophers", Mode: ModeMembers}, tr)
	require.NoError(t, err)

	assert.Equal(t, "500", g.GroupID)
	assert.Equal(t, "Gophers", g.GroupName)
	require.NotNil(t, g.GroupUsername)
	assert.Equal(t, "gophers", *g.GroupUsername)
	assert.Equal(t, 300, g.MemberCount)
	assert.True(t, g.IsPublic)
	assert.False(t, g.IsChannel)

	n, err := env.store.CountMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), n)

	page, err := env.store.ListMembers(ctx, g.ID, repository.Page{Size: 500})
	require.NoError(t, err)
	distinct := map[string]bool{}
	for _, m := range page.Items {
		distinct[m.UserID] = true
	}
	assert.Len(t, distinct, 300)
	assert.True(t, page.Items[0].IsAdmin)
	assert.Equal(t, "5", page.Items[0].UserID)

	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseCompleted, s.CurrentPhase)
	assert.Nil(t, s.CurrentGroupID)
	assert.True(t, s.IsParsing, "terminal state stays visible")

	assert.Equal(t, []EventStatus{EventStarted, EventCompleted}, env.events.statuses())
	assert.Equal(t, 1, env.connector.releases)
	assert.Equal(t, "session-1", env.connector.creds[0].Session)

	assert.Equal(t, []progress.Phase{
		progress.PhaseInitializing,
		progress.PhaseConnecting,
		progress.PhaseValidation,
		progress.PhaseInfo,
		progress.PhaseDatabase,
		progress.PhaseScanning,
		progress.PhaseMembers,
		progress.PhaseProcessing,
		progress.PhaseSaving,
		progress.PhaseCompleted,
	}, env.phases.seen())
}

func TestParse_ReparseKeepsSingleGroup(t *testing.T) {
	env := newEnv(t, groupClient())
	env.addSession(t, 1)
	ctx := context.Background()

	first, err := env.orch.Parse(ctx, ParseRequest{UserID: 1, Link: "@gophers", Mode: ModeMembers}, env.begin(t, 1))
	require.NoError(t, err)

	second, err := env.orch.Parse(ctx, ParseRequest{UserID: 1, Link: "-1000000000500", Mode: ModeMembers}, env.begin(t, 1))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, int64(1), env.groupCount(t, 1))

	old, err := env.store.CountMembers(ctx, first.ID)
	require.NoError(t, err)
	assert.Zero(t, old)
}

func TestParse_CancelRollsBack(t *testing.T) {
	client := groupClient()
	client.members = makeUsers(1, 450)
	env := newEnv(t, client)
	env.addSession(t, 1)
	tr := env.begin(t, 1)

	client.beforeParticipants = func(filter telegram.ParticipantFilter, offset int) {
		if filter == telegram.FilterRecent && offset == participantsPage {
			env.registry.Cancel(1)
		}
	}

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "gophers", Mode: ModeMembers}, tr)
	assert.ErrorIs(t, err, ErrCancelled)

	assert.Zero(t, env.groupCount(t, 1))
	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseCancelled, s.CurrentPhase)
	assert.Nil(t, s.CurrentGroupID)
	assert.Equal(t, []EventStatus{EventStarted, EventCancelled}, env.events.statuses())
	assert.Equal(t, 1, env.connector.releases)
}

func TestParse_ErrorAfterCreateRollsBack(t *testing.T) {
	client := channelFixture(5)
	client.info = telegram.FullInfo{ParticipantsCount: 10}
	client.replyErr[3] = &telegram.RateLimitError{Method: "messages.getReplies", Wait: time.Minute}
	env := newEnv(t, client)
	env.addSession(t, 1)
	tr := env.begin(t, 1)

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "@news", Mode: ModeChannel, PostLimit: 5}, tr)
	_, ok := telegram.AsRateLimit(err)
	require.True(t, ok)

	assert.Zero(t, env.groupCount(t, 1), "incomplete group is deleted on error too")
	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseError, s.CurrentPhase)
	assert.Contains(t, s.StatusMessage, "rate limit")
	assert.Equal(t, []EventStatus{EventStarted, EventFailed}, env.events.statuses())
}

func TestParse_NoSession(t *testing.T) {
	env := newEnv(t, groupClient())
	tr := env.begin(t, 1)

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "@gophers", Mode: ModeMembers}, tr)
	assert.ErrorIs(t, err, telegram.ErrNotConfigured)
	assert.ErrorIs(t, err, telegram.ErrNoActiveSession)

	assert.Zero(t, env.connector.connects())
	assert.Zero(t, env.groupCount(t, 1))
	assert.Equal(t, []progress.Phase{progress.PhaseInitializing, progress.PhaseError}, env.phases.seen())
	assert.Empty(t, env.events.statuses())
}

func TestParse_ValidationBeforeConnect(t *testing.T) {
	env := newEnv(t, channelFixture(5))
	env.addSession(t, 1)

	tests := []struct {
		name string
		req  ParseRequest
		want error
	}{
		{"post limit zero", ParseRequest{Link: "@news", Mode: ModeChannel, PostLimit: 0}, ErrInvalidPostLimit},
		{"post limit too large", ParseRequest{Link: "@news", Mode: ModeChannel, PostLimit: 150}, ErrInvalidPostLimit},
		{"missing link", ParseRequest{Link: "  ", Mode: ModeMembers}, ErrLinkRequired},
		{"bad mode", ParseRequest{Link: "@news", Mode: "everything"}, ErrInvalidMode},
		{"invite link", ParseRequest{Link: "https://t.me/+abcdef", Mode: ModeMembers}, telegram.ErrInvalidIdentifier},
		{"message limit", ParseRequest{Link: "@news", Mode: ModeRecent, MessageLimit: 5000}, ErrInvalidMessageLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.UserID = 1
			_, err := env.orch.Parse(context.Background(), tt.req, env.begin(t, 1))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, env.connector.connects())
	assert.Zero(t, env.groupCount(t, 1))
	assert.Empty(t, env.events.statuses(), "rejected requests never started")
}

func TestParse_ChannelModeRequiresBroadcast(t *testing.T) {
	env := newEnv(t, groupClient())
	env.addSession(t, 1)
	tr := env.begin(t, 1)

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "@gophers", Mode: ModeChannel, PostLimit: 10}, tr)
	assert.ErrorIs(t, err, ErrNotAChannel)
	assert.Zero(t, env.groupCount(t, 1))
	assert.Equal(t, 1, env.connector.releases)
}

func TestParse_RejectsPrivateChats(t *testing.T) {
	client := groupClient()
	client.entity = telegram.Entity{ID: 42, Kind: telegram.KindUser, Username: "someone"}
	env := newEnv(t, client)
	env.addSession(t, 1)

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "@someone", Mode: ModeMembers}, env.begin(t, 1))
	assert.ErrorIs(t, err, ErrUnsupportedEntity)
}

func TestParse_EntityNotFound(t *testing.T) {
	env := newEnv(t, groupClient())
	env.addSession(t, 1)
	tr := env.begin(t, 1)

	_, err := env.orch.Parse(context.Background(), ParseRequest{UserID: 1, Link: "@missing_group", Mode: ModeMembers}, tr)
	assert.ErrorIs(t, err, telegram.ErrEntityNotFound)
	assert.Equal(t, "Group or channel not found", tr.Snapshot().StatusMessage)
}

func TestParse_ChannelWithPosts(t *testing.T) {
	client := channelFixture(4)
	client.replyErr[2] = errBoom
	env := newEnv(t, client)
	env.addSession(t, 1)
	ctx := context.Background()

	g, err := env.orch.Parse(ctx, ParseRequest{UserID: 1, Link: "@news", Mode: ModeChannel, PostLimit: 4, SavePosts: true}, env.begin(t, 1))
	require.NoError(t, err)
	assert.True(t, g.IsChannel)

	n, err := env.store.CountMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "three own commenters plus the shared one")

	posts, err := env.store.ListPosts(ctx, g.ID, repository.Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), posts.Total)
}

func TestParse_RecentMode(t *testing.T) {
	client := groupClient()
	for id := 30; id >= 1; id-- {
		client.history = append(client.history, telegram.Message{ID: id, SenderID: int64(id%3 + 1)})
	}
	env := newEnv(t, client)
	env.addSession(t, 1)
	ctx := context.Background()

	g, err := env.orch.Parse(ctx, ParseRequest{UserID: 1, Link: "@gophers", Mode: ModeRecent}, env.begin(t, 1))
	require.NoError(t, err)

	n, err := env.store.CountMembers(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
