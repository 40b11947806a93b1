package parser

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockedby/tgparser/internal/database"
	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/repository"
	"github.com/blockedby/tgparser/internal/telegram"
)

// fakeClient serves a single group or channel from memory.
type fakeClient struct {
	mu sync.Mutex

	entity telegram.Entity
	info   telegram.FullInfo

	admins  []telegram.User
	members []telegram.User

	history  []telegram.Message // newest first
	users    map[int64]telegram.User
	replies  map[int][]telegram.Message
	replyErr map[int]error
	// service ids are served as service messages: counted in the raw page
	// but absent from Messages.
	service map[int]bool
	// replyErrLater fails a thread on every page after the first.
	replyErrLater map[int]error

	resolveErr error
	// beforeParticipants runs before each participants page is served.
	beforeParticipants func(filter telegram.ParticipantFilter, offset int)

	participantCalls int
	replyCalls       int
}

func (f *fakeClient) ResolveUsername(_ context.Context, username string) (telegram.Entity, error) {
	if f.resolveErr != nil {
		return telegram.Entity{}, f.resolveErr
	}
	if strings.EqualFold(username, f.entity.Username) {
		return f.entity, nil
	}
	return telegram.Entity{}, telegram.ErrEntityNotFound
}

func (f *fakeClient) LookupID(_ context.Context, id int64, _ telegram.EntityKind) (telegram.Entity, error) {
	if f.resolveErr != nil {
		return telegram.Entity{}, f.resolveErr
	}
	if id == f.entity.ID {
		return f.entity, nil
	}
	return telegram.Entity{}, telegram.ErrEntityNotFound
}

func (f *fakeClient) Dialogs(context.Context, int) ([]telegram.Entity, error) {
	return nil, nil
}

func (f *fakeClient) FullInfo(context.Context, telegram.Entity) (telegram.FullInfo, error) {
	return f.info, nil
}

func (f *fakeClient) Participants(_ context.Context, _ telegram.Entity, filter telegram.ParticipantFilter, offset, limit int) (telegram.ParticipantPage, error) {
	f.mu.Lock()
	f.participantCalls++
	hook := f.beforeParticipants
	f.mu.Unlock()
	if hook != nil {
		hook(filter, offset)
	}

	list := f.members
	if filter == telegram.FilterAdmins {
		list = f.admins
	}
	if offset >= len(list) {
		return telegram.ParticipantPage{Total: len(list)}, nil
	}
	end := min(offset+limit, len(list))
	return telegram.ParticipantPage{Users: list[offset:end], Total: len(list)}, nil
}

func (f *fakeClient) History(_ context.Context, _ telegram.Entity, offsetID, limit int) (telegram.MessagePage, error) {
	return f.page(pageOf(f.history, offsetID, limit)), nil
}

func (f *fakeClient) Replies(_ context.Context, _ telegram.Entity, msgID, offsetID, limit int) (telegram.MessagePage, error) {
	f.mu.Lock()
	f.replyCalls++
	f.mu.Unlock()
	if err := f.replyErr[msgID]; err != nil {
		return telegram.MessagePage{}, err
	}
	if err := f.replyErrLater[msgID]; err != nil && offsetID != 0 {
		return telegram.MessagePage{}, err
	}
	return f.page(pageOf(f.replies[msgID], offsetID, limit)), nil
}

func (f *fakeClient) page(raw []telegram.Message) telegram.MessagePage {
	p := telegram.MessagePage{Users: f.users, Fetched: len(raw)}
	for _, m := range raw {
		p.LastID = m.ID
		if !f.service[m.ID] {
			p.Messages = append(p.Messages, m)
		}
	}
	return p
}

// pageOf returns up to limit messages older than offsetID from a
// newest-first list.
func pageOf(msgs []telegram.Message, offsetID, limit int) []telegram.Message {
	var out []telegram.Message
	for _, m := range msgs {
		if offsetID != 0 && m.ID >= offsetID {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, m)
	}
	return out
}

func makeUsers(from, n int) []telegram.User {
	out := make([]telegram.User, 0, n)
	for i := from; i < from+n; i++ {
		out = append(out, telegram.User{ID: int64(i), Username: "user" + strconv.Itoa(i), FirstName: "U"})
	}
	return out
}

type fakeConnector struct {
	mu       sync.Mutex
	client   Client
	err      error
	creds    []telegram.Credential
	releases int
}

func (c *fakeConnector) Connect(_ context.Context, cred telegram.Credential) (Client, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = append(c.creds, cred)
	if c.err != nil {
		return nil, nil, c.err
	}
	return c.client, func() {
		c.mu.Lock()
		c.releases++
		c.mu.Unlock()
	}, nil
}

func (c *fakeConnector) connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.creds)
}

type recordingEvents struct {
	mu     sync.Mutex
	events []ParseEvent
	err    error
}

func (r *recordingEvents) PublishParseEvent(_ context.Context, ev ParseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingEvents) statuses() []EventStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventStatus
	for _, e := range r.events {
		out = append(out, e.Status)
	}
	return out
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []progress.Phase
}

func (p *phaseRecorder) ProgressChanged(s progress.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.phases); n == 0 || p.phases[n-1] != s.CurrentPhase {
		p.phases = append(p.phases, s.CurrentPhase)
	}
}

func (p *phaseRecorder) seen() []progress.Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]progress.Phase(nil), p.phases...)
}

type env struct {
	store     *repository.Store
	registry  *progress.Registry
	phases    *phaseRecorder
	connector *fakeConnector
	events    *recordingEvents
	orch      *Orchestrator
}

func newEnv(t *testing.T, client *fakeClient) *env {
	t.Helper()

	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, repository.AutoMigrate(db.GORM))
	store := repository.New(db.GORM)

	phases := &phaseRecorder{}
	reg, err := progress.NewRegistry(progress.Options{Grace: time.Minute, Observer: phases})
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	e := &env{
		store:     store,
		registry:  reg,
		phases:    phases,
		connector: &fakeConnector{client: client},
		events:    &recordingEvents{},
	}
	e.orch = NewOrchestrator(OrchestratorConfig{
		Store:      store,
		Sessions:   telegram.NewCredentialPool("", store),
		Connector:  e.connector,
		Events:     e.events,
		ResetDelay: time.Hour,
	})
	return e
}

func (e *env) addSession(t *testing.T, userID uint) {
	t.Helper()
	require.NoError(t, e.store.CreateSession(context.Background(), &models.TelegramSession{
		UserID:        userID,
		Phone:         "+10000000000",
		SessionString: "session-" + strconv.Itoa(int(userID)),
		IsActive:      true,
	}))
}

func (e *env) begin(t *testing.T, userID uint) *progress.Tracker {
	t.Helper()
	tr, err := e.registry.Begin(userID)
	require.NoError(t, err)
	return tr
}

func (e *env) groupCount(t *testing.T, userID uint) int64 {
	t.Helper()
	res, err := e.store.ListGroups(context.Background(), userID, repository.Page{})
	require.NoError(t, err)
	return res.Total
}

var errBoom = errors.New("boom")
