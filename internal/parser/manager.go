package parser

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/progress"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("parse manager is stopped")

// Runner executes one parse operation.
type Runner interface {
	Parse(ctx context.Context, req ParseRequest, tr *progress.Tracker) (*models.Group, error)
}

// Job is a parse running in the background.
type Job struct {
	ID        string
	UserID    uint
	StartedAt time.Time
	Request   ParseRequest

	cancel context.CancelFunc
}

// Manager runs parse operations in the background, one per user
// (or one in total in singleton mode).
// thread-safe
type Manager struct {
	runner   Runner
	registry *progress.Registry
	log      *logger.Logger

	mu      sync.Mutex
	jobs    map[string]*Job
	stopped bool
	wg      sync.WaitGroup
}

// NewManager creates a manager.
func NewManager(runner Runner, registry *progress.Registry, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Get()
	}
	return &Manager{
		runner:   runner,
		registry: registry,
		log:      log.Component("parse_manager"),
		jobs:     map[string]*Job{},
	}
}

// Start validates req and launches it. It returns as soon as the operation
// is registered; progress is read through Progress.
func (m *Manager) Start(_ context.Context, req ParseRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, ErrStopped
	}

	tr, err := m.registry.Begin(req.UserID)
	if err != nil {
		return nil, err
	}

	// detached from the request: the job outlives the HTTP handler
	ctx, cancel := context.WithCancel(context.Background())
	job := &Job{
		ID:        tr.ID(),
		UserID:    req.UserID,
		StartedAt: time.Now(),
		Request:   req,
		cancel:    cancel,
	}
	m.jobs[job.ID] = job

	m.wg.Add(1)
	go m.run(ctx, job, tr)

	return job, nil
}

func (m *Manager) run(ctx context.Context, job *Job, tr *progress.Tracker) {
	defer m.wg.Done()
	defer func() {
		job.cancel()
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
	}()

	// errors are recorded on the tracker and logged by the runner
	_, _ = m.runner.Parse(ctx, job.Request, tr)
}

// Cancel requests cancellation of the user's running parse. It reports
// false when nothing is running.
func (m *Manager) Cancel(userID uint) bool {
	return m.registry.Cancel(userID)
}

// Progress returns the user's progress; false means idle.
func (m *Manager) Progress(userID uint) (progress.State, bool) {
	return m.registry.Progress(userID)
}

// Running returns the number of operations in flight.
func (m *Manager) Running() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.jobs)
}

// Stop cancels every running job and waits for them to unwind, or for ctx.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.stopped = true
	for _, job := range m.jobs {
		job.cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Msg("all parse jobs stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
