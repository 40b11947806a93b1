package progress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/tgparser/internal/logger"
)

// Options configures a Registry.
type Options struct {
	// Dir receives one JSON file per operation. Empty disables persistence.
	Dir string
	// Singleton allows one running operation system-wide, persisted to a
	// single well-known file.
	Singleton bool
	// Grace keeps terminal states observable after Reset.
	Grace    time.Duration
	Observer Observer
	Logger   *logger.Logger
}

// Registry owns the trackers of all operations, indexed by operation id and
// by user. At most one operation per user runs at a time.
type Registry struct {
	opts  Options
	store *fileStore
	log   *logger.Logger

	mu     sync.Mutex
	byID   map[string]*Tracker
	byUser map[uint]*Tracker
}

// NewRegistry creates a registry and sweeps stale progress files.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Grace <= 0 {
		opts.Grace = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Get()
	}

	r := &Registry{
		opts:   opts,
		log:    opts.Logger.Component("progress"),
		byID:   map[string]*Tracker{},
		byUser: map[uint]*Tracker{},
	}

	if opts.Dir != "" {
		store, err := newFileStore(opts.Dir)
		if err != nil {
			return nil, err
		}
		n, err := store.sweep()
		if err != nil {
			return nil, err
		}
		if n > 0 {
			r.log.Info().Int("files", n).Str("dir", opts.Dir).Msg("removed stale progress files")
		}
		r.store = store
	}
	return r, nil
}

// Begin registers a tracker for a new operation in the initializing phase.
// A terminal tracker still in its grace window is replaced.
func (r *Registry) Begin(userID uint) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.opts.Singleton {
		for _, t := range r.byID {
			if t.Active() {
				return nil, ErrAlreadyRunning
			}
		}
		for _, t := range r.byID {
			r.dropLocked(t)
		}
	} else if old := r.byUser[userID]; old != nil {
		if old.Active() {
			return nil, ErrAlreadyRunning
		}
		r.dropLocked(old)
	}

	now := time.Now()
	id := uuid.NewString()
	t := &Tracker{
		reg:  r,
		file: id + ".json",
		state: State{
			OperationID:   id,
			UserID:        userID,
			CurrentPhase:  PhaseInitializing,
			StatusMessage: "Initializing",
			StartedAt:     now,
			UpdatedAt:     now,
		},
	}
	if r.opts.Singleton {
		t.file = singletonFile
	}

	r.byID[id] = t
	r.byUser[userID] = t

	t.mu.Lock()
	t.flushLocked(true)
	t.mu.Unlock()

	r.log.Debug().Str("operation_id", id).Uint("user_id", userID).Msg("operation registered")
	return t, nil
}

// Get returns the tracker of an operation.
func (r *Registry) Get(operationID string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[operationID]
	return t, ok
}

// ForUser returns the user's current tracker, running or in its grace window.
// In singleton mode the one system-wide operation is visible to every user.
func (r *Registry) ForUser(userID uint) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.opts.Singleton {
		for _, t := range r.byID {
			return t, true
		}
		return nil, false
	}
	t, ok := r.byUser[userID]
	return t, ok
}

// Progress returns the progress snapshot the user can observe; false means
// idle.
func (r *Registry) Progress(userID uint) (State, bool) {
	t, ok := r.ForUser(userID)
	if !ok {
		return State{}, false
	}
	return t.Snapshot(), true
}

// Cancel requests cancellation of the user's own running operation. It
// reports false when nothing is running.
func (r *Registry) Cancel(userID uint) bool {
	r.mu.Lock()
	t, ok := r.byUser[userID]
	r.mu.Unlock()
	if !ok || !t.Active() {
		return false
	}
	t.Cancel()
	return true
}

// Close drops every tracker and its file.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byID {
		r.dropLocked(t)
	}
}

func (r *Registry) release(t *Tracker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropLocked(t)
}

func (r *Registry) dropLocked(t *Tracker) {
	if r.byID[t.ID()] == t {
		delete(r.byID, t.ID())
	}
	if r.byUser[t.UserID()] == t {
		delete(r.byUser, t.UserID())
	}
	t.markRemoved()
}

// publish persists and broadcasts a state; called with the tracker lock held.
func (r *Registry) publish(file string, s State) {
	if r.store != nil {
		if err := r.store.write(file, s); err != nil {
			r.log.Warn().Err(err).Str("operation_id", s.OperationID).Msg("failed to persist progress")
		}
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ProgressChanged(s)
	}
}

func (r *Registry) discard(file string, s State) {
	if r.store != nil {
		if err := r.store.remove(file); err != nil {
			r.log.Warn().Err(err).Str("operation_id", s.OperationID).Msg("failed to remove progress file")
		}
	}
	if r.opts.Observer != nil {
		r.opts.Observer.ProgressChanged(s)
	}
}
