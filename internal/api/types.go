package api

import (
	"time"

	"github.com/blockedby/tgparser/internal/parser"
)

// ParseGroupRequest is the body of POST /parse/group.
type ParseGroupRequest struct {
	Link         string      `json:"link"`
	Mode         parser.Mode `json:"mode"`
	MessageLimit int         `json:"message_limit"`
}

// ParseChannelRequest is the body of POST /parse/channel.
type ParseChannelRequest struct {
	Link      string `json:"link"`
	PostLimit int    `json:"post_limit"`
	SavePosts bool   `json:"save_posts"`
}

// ParseStartedResponse is returned when a parse is accepted.
type ParseStartedResponse struct {
	OperationID string    `json:"operation_id"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"started_at"`
}

// IdleProgress is the progress body when nothing is running.
type IdleProgress struct {
	IsParsing bool `json:"is_parsing"`
}

// CreateSessionRequest is the body of POST /sessions.
type CreateSessionRequest struct {
	Phone         string `json:"phone"`
	SessionString string `json:"session_string"`
	Activate      *bool  `json:"activate,omitempty"`
}
