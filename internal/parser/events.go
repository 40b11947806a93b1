package parser

import (
	"context"
	"time"
)

// EventStatus is the lifecycle stage reported by a ParseEvent.
type EventStatus string

const (
	EventStarted   EventStatus = "started"
	EventCompleted EventStatus = "completed"
	EventFailed    EventStatus = "failed"
	EventCancelled EventStatus = "cancelled"
)

// ParseEvent describes a parse lifecycle transition.
type ParseEvent struct {
	OperationID string      `json:"operation_id"`
	UserID      uint        `json:"user_id"`
	GroupID     uint        `json:"group_id,omitempty"`
	Status      EventStatus `json:"status"`
	Members     int         `json:"members"`
	Error       string      `json:"error,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// EventPublisher receives parse lifecycle events. Publishing failures never
// fail a parse.
type EventPublisher interface {
	PublishParseEvent(ctx context.Context, ev ParseEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishParseEvent(context.Context, ParseEvent) error { return nil }
