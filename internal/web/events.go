package web

import (
	"encoding/json"

	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/progress"
)

// WebSocket event types
const (
	EventProgress = "parse.progress"
	EventParse    = "parse.event"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// ProgressEvent encodes a progress snapshot.
func ProgressEvent(s progress.State) []byte {
	b, _ := json.Marshal(WSEvent{Type: EventProgress, Payload: s})
	return b
}

// ParseEventMessage encodes a parse lifecycle event.
func ParseEventMessage(ev parser.ParseEvent) []byte {
	b, _ := json.Marshal(WSEvent{Type: EventParse, Payload: ev})
	return b
}
