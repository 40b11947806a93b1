package parser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/telegram"
)

func newTracker(t *testing.T) *progress.Tracker {
	t.Helper()
	reg, err := progress.NewRegistry(progress.Options{})
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	tr, err := reg.Begin(1)
	require.NoError(t, err)
	return tr
}

var supergroup = telegram.Entity{ID: 500, AccessHash: 1, Kind: telegram.KindSupergroup, Title: "Gophers", Username: "gophers"}

func TestScanMembers_AdminsFirstAndDedup(t *testing.T) {
	admins := []telegram.User{{ID: 3, Username: "boss"}, {ID: 7, Username: "mod"}}
	members := append(makeUsers(1, 450), telegram.User{ID: 2}) // id 2 listed twice
	client := &fakeClient{entity: supergroup, admins: admins, members: members}
	tr := newTracker(t)

	got, err := NewMemberScanner(nil).ScanMembers(context.Background(), client, supergroup, tr)
	require.NoError(t, err)

	require.Len(t, got, 450)
	assert.Equal(t, int64(3), got[0].UserID)
	assert.True(t, got[0].IsAdmin)
	assert.True(t, got[1].IsAdmin)

	ids := map[int64]int{}
	admin := 0
	for _, m := range got {
		ids[m.UserID]++
		if m.IsAdmin {
			admin++
		}
	}
	assert.Len(t, ids, len(got), "no duplicate ids")
	assert.Equal(t, 2, admin)

	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseMembers, s.CurrentPhase)
	assert.Equal(t, 450, s.CurrentMembers)
	assert.LessOrEqual(t, s.PhaseProgress, 100.0)
}

func TestScanMembers_KeepsDeletedAccounts(t *testing.T) {
	client := &fakeClient{entity: supergroup, members: []telegram.User{{ID: 1}, {ID: 2, Deleted: true}, {ID: 3}}}
	tr := newTracker(t)

	got, err := NewMemberScanner(nil).ScanMembers(context.Background(), client, supergroup, tr)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, int64(2), got[1].UserID)
	assert.Equal(t, 3, tr.Snapshot().CurrentMembers)
}

func TestScanMembers_CancelMidScan(t *testing.T) {
	tr := newTracker(t)
	client := &fakeClient{entity: supergroup, members: makeUsers(1, 450)}
	client.beforeParticipants = func(filter telegram.ParticipantFilter, offset int) {
		if filter == telegram.FilterRecent && offset == participantsPage {
			tr.Cancel()
		}
	}

	got, err := NewMemberScanner(nil).ScanMembers(context.Background(), client, supergroup, tr)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Nil(t, got)
	assert.Equal(t, participantsPage, tr.Snapshot().CurrentMembers)
}

func TestScanMembers_CancelledBeforeStart(t *testing.T) {
	tr := newTracker(t)
	tr.Cancel()
	client := &fakeClient{entity: supergroup, members: makeUsers(1, 10)}

	_, err := NewMemberScanner(nil).ScanMembers(context.Background(), client, supergroup, tr)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, client.participantCalls)
}

func TestScanRecentSenders(t *testing.T) {
	var history []telegram.Message
	for id := 250; id >= 1; id-- {
		sender := int64(id % 5) // senders 0..4, 0 means a channel post
		history = append(history, telegram.Message{ID: id, SenderID: sender})
	}
	users := map[int64]telegram.User{
		1: {ID: 1, Username: "one"},
		2: {ID: 2, Username: "two", Bot: true},
		3: {ID: 3, Deleted: true},
	}
	client := &fakeClient{entity: supergroup, history: history, users: users}
	tr := newTracker(t)

	got, err := NewMemberScanner(nil).ScanRecentSenders(context.Background(), client, supergroup, 150, tr)
	require.NoError(t, err)

	// 3 is a deleted account, 4 an unknown user, 0 has no user sender
	ids := []int64{}
	for _, m := range got {
		ids = append(ids, m.UserID)
	}
	assert.ElementsMatch(t, []int64{1, 2, 3, 4}, ids)

	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseComments, s.CurrentPhase)
	assert.Equal(t, 150, s.CurrentMembers)
	assert.Equal(t, 100.0, s.PhaseProgress)
}

func TestScanRecentSenders_ServicePagesDoNotEndScan(t *testing.T) {
	var history []telegram.Message
	service := map[int]bool{}
	for id := 250; id >= 1; id-- {
		history = append(history, telegram.Message{ID: id, SenderID: int64(id)})
		if id > 150 {
			service[id] = true // the newest 100 are joins and pins
		}
	}
	client := &fakeClient{entity: supergroup, history: history, service: service}
	tr := newTracker(t)

	got, err := NewMemberScanner(nil).ScanRecentSenders(context.Background(), client, supergroup, 50, tr)
	require.NoError(t, err)
	require.Len(t, got, 50)
	assert.Equal(t, int64(150), got[0].UserID)
	assert.Equal(t, 50, tr.Snapshot().CurrentMembers)
}

func TestScanRecentSenders_DefaultLimit(t *testing.T) {
	var history []telegram.Message
	for id := 300; id >= 1; id-- {
		history = append(history, telegram.Message{ID: id, SenderID: int64(id)})
	}
	client := &fakeClient{entity: supergroup, history: history}

	got, err := NewMemberScanner(nil).ScanRecentSenders(context.Background(), client, supergroup, 0, newTracker(t))
	require.NoError(t, err)
	assert.Len(t, got, DefaultMessageLimit)
	assert.Equal(t, int64(300), got[0].UserID)
}

var channel = telegram.Entity{ID: 900, AccessHash: 2, Kind: telegram.KindBroadcast, Title: "News", Username: "news"}

func channelFixture(posts int) *fakeClient {
	c := &fakeClient{
		entity:   channel,
		users:    map[int64]telegram.User{},
		replies:  map[int][]telegram.Message{},
		replyErr: map[int]error{},
	}
	for id := posts; id >= 1; id-- {
		c.history = append(c.history, telegram.Message{ID: id, Text: "post", Replies: 2, Date: time.Unix(int64(id), 0)})
		// every post has its own commenter plus commenter 1 shared by all
		own := int64(1000 + id)
		c.users[own] = telegram.User{ID: own, Username: "c" + string(rune('a'+id%26))}
		c.replies[id] = []telegram.Message{
			{ID: id*10 + 2, SenderID: own, Text: "reply"},
			{ID: id*10 + 1, SenderID: 1, Text: "first"},
		}
	}
	c.users[1] = telegram.User{ID: 1, Username: "regular"}
	return c
}

func TestValidatePostLimit(t *testing.T) {
	for _, n := range []int{-1, 0, 101, 150} {
		assert.ErrorIs(t, ValidatePostLimit(n), ErrInvalidPostLimit, n)
		assert.ErrorIs(t, ValidatePostLimit(n), ErrValidation, n)
	}
	for _, n := range []int{1, 50, 100} {
		assert.NoError(t, ValidatePostLimit(n), n)
	}
}

func TestScanChannel_MergesCommenters(t *testing.T) {
	client := channelFixture(10)
	tr := newTracker(t)

	res, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 5}, tr)
	require.NoError(t, err)

	assert.Equal(t, 5, res.PostsScanned)
	assert.Zero(t, res.PostErrors)
	assert.Len(t, res.Commenters, 6, "five own commenters plus the shared one")
	assert.Nil(t, res.Posts)

	s := tr.Snapshot()
	assert.Equal(t, progress.PhaseComments, s.CurrentPhase)
	assert.Equal(t, 5, s.CurrentMembers)
}

func TestScanChannel_SkipsFailingPosts(t *testing.T) {
	client := channelFixture(100)
	for _, id := range []int{5, 50, 99} {
		client.replyErr[id] = errBoom
	}

	res, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 100}, newTracker(t))
	require.NoError(t, err)

	assert.Equal(t, 100, res.PostsScanned)
	assert.Equal(t, 3, res.PostErrors)
	assert.Len(t, res.Commenters, 97+1)
}

func TestScanChannel_FailedThreadAddsNoCommenters(t *testing.T) {
	client := channelFixture(2)
	// post 2 has a thread longer than one page that breaks on the second
	var long []telegram.Message
	for i := 150; i >= 1; i-- {
		long = append(long, telegram.Message{ID: 5000 + i, SenderID: int64(7000 + i)})
	}
	client.replies[2] = long
	client.replyErrLater = map[int]error{2: errBoom}

	res, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 2, SavePosts: true}, newTracker(t))
	require.NoError(t, err)

	assert.Equal(t, 1, res.PostErrors)
	ids := []int64{}
	for _, m := range res.Commenters {
		ids = append(ids, m.UserID)
	}
	assert.ElementsMatch(t, []int64{1001, 1}, ids, "only post 1 contributes")
	assert.Empty(t, res.Posts[0].Comments)
}

func TestScanChannel_ThreadPagesPastServiceMessages(t *testing.T) {
	client := channelFixture(1)
	var thread []telegram.Message
	service := map[int]bool{}
	for i := 120; i >= 1; i-- {
		thread = append(thread, telegram.Message{ID: 5000 + i, SenderID: int64(7000 + i)})
		if i > 110 {
			service[5000+i] = true
		}
	}
	client.replies[1] = thread
	client.service = service

	res, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 1}, newTracker(t))
	require.NoError(t, err)
	assert.Len(t, res.Commenters, 110)
	assert.Equal(t, 2, client.replyCalls)
}

func TestScanChannel_RateLimitAborts(t *testing.T) {
	client := channelFixture(10)
	client.replyErr[8] = &telegram.RateLimitError{Method: "messages.getReplies", Wait: time.Hour}

	_, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 10}, newTracker(t))
	rl, ok := telegram.AsRateLimit(err)
	require.True(t, ok)
	assert.Equal(t, time.Hour, rl.Wait)
}

func TestScanChannel_RejectsLimitBeforeNetwork(t *testing.T) {
	client := channelFixture(10)

	for _, n := range []int{0, 150} {
		_, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: n}, newTracker(t))
		assert.ErrorIs(t, err, ErrInvalidPostLimit)
	}
	assert.Zero(t, client.replyCalls)
}

func TestScanChannel_SavePosts(t *testing.T) {
	client := channelFixture(3)
	client.history[0].Replies = 0 // newest post has comments disabled

	res, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 3, SavePosts: true}, newTracker(t))
	require.NoError(t, err)

	require.Len(t, res.Posts, 3)
	assert.Equal(t, 3, res.Posts[0].ID)
	assert.Empty(t, res.Posts[0].Comments)
	require.Len(t, res.Posts[1].Comments, 2)
	assert.Equal(t, "reply", res.Posts[1].Comments[0].Text)
	assert.Equal(t, 2, client.replyCalls)

	post := res.Posts[1].Model()
	assert.Equal(t, 2, post.PostID)
	require.Len(t, post.Comments, 2)
	assert.Equal(t, "1002", post.Comments[0].UserID)
}

func TestScanChannel_Cancel(t *testing.T) {
	client := channelFixture(10)
	tr := newTracker(t)
	tr.Cancel()

	_, err := NewChannelScanner(nil).ScanChannel(context.Background(), client, channel, ChannelScanOptions{PostLimit: 10}, tr)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Zero(t, client.replyCalls)
}
