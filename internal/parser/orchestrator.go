package parser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/telegram"
)

// rollbackTimeout bounds the cleanup of an incomplete group.
const rollbackTimeout = 30 * time.Second

// Store is the persistence the orchestrator needs.
type Store interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroupByExternalID(ctx context.Context, userID uint, groupID string) (*models.Group, error)
	DeleteGroup(ctx context.Context, id uint) error
	CreateMembersBulk(ctx context.Context, groupID uint, members []models.Member) error
	CreatePosts(ctx context.Context, groupID uint, posts []models.Post) error
}

// SessionProvider resolves the user session a parse runs under.
type SessionProvider interface {
	SessionFor(ctx context.Context, userID uint) (telegram.Credential, error)
}

// Connector opens a Telegram connection. release must be called on every
// path once Connect succeeded.
type Connector interface {
	Connect(ctx context.Context, cred telegram.Credential) (api Client, release func(), err error)
}

// LinkConnector connects through a telegram.Link.
type LinkConnector struct {
	Dial    telegram.Dialer
	Options telegram.APIOptions
}

// Connect implements Connector.
func (c LinkConnector) Connect(ctx context.Context, cred telegram.Credential) (Client, func(), error) {
	link := telegram.NewLink(c.Dial, cred, c.Options)
	api, err := link.Connect(ctx)
	if err != nil {
		link.Disconnect()
		return nil, nil, err
	}
	return api, link.Disconnect, nil
}

// OrchestratorConfig wires an Orchestrator.
type OrchestratorConfig struct {
	Store     Store
	Sessions  SessionProvider
	Connector Connector
	Events    EventPublisher
	// ResetDelay postpones the tracker reset so a final poll sees the
	// terminal state.
	ResetDelay time.Duration
	Logger     *logger.Logger
}

// Orchestrator runs a parse end to end: validate, connect, resolve, create
// the group row, scan, persist. Any failure after the group row exists
// deletes it again.
type Orchestrator struct {
	store      Store
	sessions   SessionProvider
	connector  Connector
	events     EventPublisher
	resetDelay time.Duration
	members    *MemberScanner
	channels   *ChannelScanner
	log        *logger.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Logger == nil {
		cfg.Logger = logger.Get()
	}
	if cfg.Events == nil {
		cfg.Events = noopPublisher{}
	}
	return &Orchestrator{
		store:      cfg.Store,
		sessions:   cfg.Sessions,
		connector:  cfg.Connector,
		events:     cfg.Events,
		resetDelay: cfg.ResetDelay,
		members:    NewMemberScanner(cfg.Logger),
		channels:   NewChannelScanner(cfg.Logger),
		log:        cfg.Logger.Component("orchestrator"),
	}
}

// scanResult is what a scan produced, ready to persist.
type scanResult struct {
	members []MemberRecord
	posts   []PostRecord
}

// Parse runs one operation under the user's saved session and returns the
// persisted group.
func (o *Orchestrator) Parse(ctx context.Context, req ParseRequest, tr *progress.Tracker) (group *models.Group, err error) {
	log := o.log.Operation(tr.ID(), req.UserID)
	defer o.scheduleReset(tr)

	// subscribers only hear about operations they saw start
	started := false
	defer func() {
		if err != nil {
			o.fail(ctx, req, tr, log, err, started)
		}
	}()

	tr.Update(progress.PhaseInitializing, 0, 0, "Initializing")
	if err := req.Validate(); err != nil {
		return nil, err
	}

	cred, err := o.sessions.SessionFor(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	o.publish(ctx, log, ParseEvent{OperationID: tr.ID(), UserID: req.UserID, Status: EventStarted})
	started = true

	tr.Update(progress.PhaseConnecting, 0, 0, "Connecting to Telegram")
	api, release, err := o.connector.Connect(ctx, cred)
	if err != nil {
		return nil, err
	}
	defer release()
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	tr.Update(progress.PhaseValidation, 0, 0, "Resolving "+req.Link)
	entity, isChannel, err := telegram.NewResolver(api, log).Resolve(ctx, req.Link)
	if err != nil {
		return nil, err
	}
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}
	switch {
	case entity.Kind == telegram.KindUser || !entity.IsGroupLike():
		return nil, ErrUnsupportedEntity
	case req.Mode == ModeChannel && !isChannel:
		return nil, ErrNotAChannel
	}

	tr.Update(progress.PhaseInfo, 0, 0, "Fetching group info")
	info, err := api.FullInfo(ctx, entity)
	if err != nil {
		return nil, err
	}
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	tr.Update(progress.PhaseDatabase, 0, 0, "Creating group record")
	group, err = o.replaceGroup(ctx, req.UserID, entity, isChannel, info)
	if err != nil {
		return nil, err
	}
	tr.SetGroup(group.ID)
	log.Debug().Uint("group_id", group.ID).Str("tg_id", group.GroupID).Msg("group row created")

	tr.Update(progress.PhaseScanning, 0, info.ParticipantsCount, "Scanning")
	res, err := o.scan(ctx, api, entity, req, tr)
	if err != nil {
		return nil, err
	}

	tr.Update(progress.PhaseProcessing, 0, len(res.members), "Preparing records")
	rows := make([]models.Member, 0, len(res.members))
	for _, m := range res.members {
		rows = append(rows, m.Model())
	}
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	tr.Update(progress.PhaseSaving, 0, len(rows), fmt.Sprintf("Saving %d members", len(rows)))
	if err := o.store.CreateMembersBulk(ctx, group.ID, rows); err != nil {
		return nil, err
	}
	if len(res.posts) > 0 {
		posts := make([]models.Post, 0, len(res.posts))
		for _, p := range res.posts {
			posts = append(posts, p.Model())
		}
		if err := o.store.CreatePosts(ctx, group.ID, posts); err != nil {
			return nil, err
		}
	}

	tr.ClearGroup()
	tr.Update(progress.PhaseCompleted, len(rows), len(rows), fmt.Sprintf("Parsed %d members", len(rows)))
	o.publish(ctx, log, ParseEvent{
		OperationID: tr.ID(),
		UserID:      req.UserID,
		GroupID:     group.ID,
		Status:      EventCompleted,
		Members:     len(rows),
	})

	log.Info().Uint("group_id", group.ID).Int("members", len(rows)).Str("mode", string(req.Mode)).Msg("parse completed")
	return group, nil
}

// replaceGroup deletes any previous row for the same group and creates a
// fresh one.
func (o *Orchestrator) replaceGroup(ctx context.Context, userID uint, e telegram.Entity, isChannel bool, info telegram.FullInfo) (*models.Group, error) {
	prev, err := o.store.GetGroupByExternalID(ctx, userID, e.ExternalID())
	if err != nil {
		return nil, err
	}
	if prev != nil {
		if err := o.store.DeleteGroup(ctx, prev.ID); err != nil {
			return nil, err
		}
	}

	g := &models.Group{
		UserID:      userID,
		GroupID:     e.ExternalID(),
		GroupName:   e.Title,
		MemberCount: info.ParticipantsCount,
		IsPublic:    e.IsPublic(),
		IsChannel:   isChannel,
		ParsedAt:    time.Now().UTC(),
	}
	if e.Username != "" {
		name := e.Username
		g.GroupUsername = &name
	}
	if err := o.store.CreateGroup(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

func (o *Orchestrator) scan(ctx context.Context, api Client, e telegram.Entity, req ParseRequest, tr *progress.Tracker) (scanResult, error) {
	switch req.Mode {
	case ModeChannel:
		res, err := o.channels.ScanChannel(ctx, api, e, ChannelScanOptions{PostLimit: req.PostLimit, SavePosts: req.SavePosts}, tr)
		if err != nil {
			return scanResult{}, err
		}
		return scanResult{members: res.Commenters, posts: res.Posts}, nil
	case ModeRecent:
		members, err := o.members.ScanRecentSenders(ctx, api, e, req.MessageLimit, tr)
		return scanResult{members: members}, err
	default:
		members, err := o.members.ScanMembers(ctx, api, e, tr)
		return scanResult{members: members}, err
	}
}

// fail rolls back the incomplete group and records the terminal state. The
// terminal event is published only when the started event was.
func (o *Orchestrator) fail(ctx context.Context, req ParseRequest, tr *progress.Tracker, log *logger.Logger, cause error, notify bool) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()

	if id, ok := tr.GroupID(); ok {
		if err := o.store.DeleteGroup(cleanupCtx, id); err != nil {
			log.Error().Err(err).Uint("group_id", id).Msg("failed to roll back group")
		} else {
			log.Info().Uint("group_id", id).Msg("incomplete group rolled back")
		}
		tr.ClearGroup()
	}

	ev := ParseEvent{OperationID: tr.ID(), UserID: req.UserID, Error: cause.Error()}
	if errors.Is(cause, ErrCancelled) || errors.Is(cause, context.Canceled) {
		tr.Update(progress.PhaseCancelled, 0, 0, "Parsing cancelled")
		ev.Status = EventCancelled
		log.Info().Msg("parse cancelled")
	} else {
		tr.Update(progress.PhaseError, 0, 0, failureMessage(cause))
		ev.Status = EventFailed
		log.Error().Err(cause).Msg("parse failed")
	}
	if notify {
		o.publish(cleanupCtx, log, ev)
	}
}

func (o *Orchestrator) scheduleReset(tr *progress.Tracker) {
	if o.resetDelay <= 0 {
		tr.Reset()
		return
	}
	time.AfterFunc(o.resetDelay, tr.Reset)
}

func (o *Orchestrator) publish(ctx context.Context, log *logger.Logger, ev ParseEvent) {
	ev.Timestamp = time.Now().UTC()
	if err := o.events.PublishParseEvent(ctx, ev); err != nil {
		log.Warn().Err(err).Str("status", string(ev.Status)).Msg("failed to publish parse event")
	}
}

// failureMessage is the human readable status shown to a polling client.
func failureMessage(err error) string {
	if rl, ok := telegram.AsRateLimit(err); ok {
		return fmt.Sprintf("Telegram rate limit, retry in %s", rl.Wait)
	}
	switch {
	case errors.Is(err, telegram.ErrNoActiveSession):
		return "No active Telegram session, add one first"
	case errors.Is(err, telegram.ErrNotConfigured):
		return "Telegram credentials are not configured"
	case errors.Is(err, telegram.ErrEntityNotFound):
		return "Group or channel not found"
	}
	return "Error: " + err.Error()
}
