package progress

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// minFlushInterval throttles persistence of counter-only updates.
const minFlushInterval = 200 * time.Millisecond

// Tracker records the progress of a single parse operation. All methods are
// safe for concurrent use; cancellation is cooperative and only observed
// where the running operation calls Check.
type Tracker struct {
	reg  *Registry
	file string

	mu         sync.Mutex
	state      State
	terminalAt time.Time
	lastFlush  time.Time
	timer      *time.Timer
	removed    bool
}

// ID returns the operation id.
func (t *Tracker) ID() string { return t.state.OperationID }

// UserID returns the owner of the operation.
func (t *Tracker) UserID() uint { return t.state.UserID }

// Update overwrites the phase, counters and message.
func (t *Tracker) Update(phase Phase, current, total int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := phase != t.state.CurrentPhase
	t.state.CurrentPhase = phase
	t.state.CurrentMembers = current
	t.state.TotalMembers = total
	t.state.PhaseProgress = percent(current, total)
	t.state.StatusMessage = message

	switch {
	case phase.Terminal() && t.terminalAt.IsZero():
		t.terminalAt = time.Now()
	case !phase.Terminal():
		t.terminalAt = time.Time{}
	}

	t.flushLocked(changed || phase.Terminal())
}

// Cancel requests cancellation. The running operation notices at its next
// probe point.
func (t *Tracker) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state.IsCancelled {
		return
	}
	t.state.IsCancelled = true
	t.flushLocked(true)
}

// IsCancelRequested reports whether Cancel was called.
func (t *Tracker) IsCancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.IsCancelled
}

// Check returns ErrCancelled if cancellation was requested or ctx is done.
func (t *Tracker) Check(ctx context.Context) error {
	if t.IsCancelRequested() {
		return ErrCancelled
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return nil
}

// SetGroup records the group row that must be rolled back if the operation
// does not complete.
func (t *Tracker) SetGroup(id uint) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentGroupID = &id
	t.flushLocked(true)
}

// ClearGroup forgets the current group row.
func (t *Tracker) ClearGroup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.CurrentGroupID = nil
	t.flushLocked(true)
}

// GroupID returns the current group row, if any.
func (t *Tracker) GroupID() (uint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.CurrentGroupID == nil {
		return 0, false
	}
	return *t.state.CurrentGroupID, true
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Active reports whether the operation is still running.
func (t *Tracker) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.removed && !t.state.CurrentPhase.Terminal()
}

// Reset releases the tracker. A terminal state stays visible until the
// grace window that started when it was reached has elapsed.
func (t *Tracker) Reset() {
	t.mu.Lock()
	if t.removed {
		t.mu.Unlock()
		return
	}
	if t.state.CurrentPhase.Terminal() {
		remaining := t.reg.opts.Grace - time.Since(t.terminalAt)
		if remaining > 0 {
			if t.timer == nil {
				t.timer = time.AfterFunc(remaining, func() { t.reg.release(t) })
			}
			t.mu.Unlock()
			return
		}
	}
	t.mu.Unlock()

	t.reg.release(t)
}

func (t *Tracker) snapshotLocked() State {
	s := t.state
	if s.CurrentGroupID != nil {
		id := *s.CurrentGroupID
		s.CurrentGroupID = &id
	}
	s.IsParsing = !t.removed
	return s
}

func (t *Tracker) flushLocked(force bool) {
	now := time.Now()
	t.state.UpdatedAt = now
	if t.removed {
		return
	}
	if !force && now.Sub(t.lastFlush) < minFlushInterval {
		return
	}
	t.lastFlush = now
	t.reg.publish(t.file, t.snapshotLocked())
}

// markRemoved is called by the registry with the registry lock held.
func (t *Tracker) markRemoved() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.removed {
		return
	}
	t.removed = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.reg.discard(t.file, t.snapshotLocked())
}
