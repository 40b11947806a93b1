// Package progress tracks the phase, counters and cancellation flag of
// running parse operations and keeps terminal states visible for a grace window.
package progress

import (
	"errors"
	"time"
)

// Phase is a step of a parse operation.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseConnecting   Phase = "connecting"
	PhaseValidation   Phase = "validation"
	PhaseInfo         Phase = "info"
	PhaseDatabase     Phase = "database"
	PhaseScanning     Phase = "scanning"
	PhaseMembers      Phase = "members"
	PhaseComments     Phase = "comments"
	PhaseProcessing   Phase = "processing"
	PhaseSaving       Phase = "saving"
	PhaseCompleted    Phase = "completed"
	PhaseCancelled    Phase = "cancelled"
	PhaseError        Phase = "error"
)

// Terminal reports whether no further transitions are expected.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseError
}

var (
	// ErrCancelled is returned by Check once cancellation was requested.
	ErrCancelled = errors.New("parse operation cancelled")
	// ErrAlreadyRunning is returned by Begin when an operation is in flight.
	ErrAlreadyRunning = errors.New("a parse operation is already running")
)

// State is a snapshot of one operation's progress.
type State struct {
	OperationID    string    `json:"operation_id"`
	UserID         uint      `json:"user_id"`
	TotalMembers   int       `json:"total_members"`
	CurrentMembers int       `json:"current_members"`
	CurrentPhase   Phase     `json:"current_phase"`
	PhaseProgress  float64   `json:"phase_progress"`
	StatusMessage  string    `json:"status_message"`
	IsCancelled    bool      `json:"is_cancelled"`
	CurrentGroupID *uint     `json:"current_group_id"`
	IsParsing      bool      `json:"is_parsing"`
	StartedAt      time.Time `json:"started_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Observer is notified after every state change.
type Observer interface {
	ProgressChanged(s State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(State)

func (f ObserverFunc) ProgressChanged(s State) { f(s) }

func percent(current, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(current) / float64(total) * 100
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
