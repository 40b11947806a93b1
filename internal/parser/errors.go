package parser

import (
	"errors"
	"fmt"

	"github.com/blockedby/tgparser/internal/progress"
)

// ErrValidation is the parent of all input errors.
var ErrValidation = errors.New("validation failed")

var (
	ErrLinkRequired        = fmt.Errorf("%w: link is required", ErrValidation)
	ErrInvalidMode         = fmt.Errorf("%w: unknown parse mode", ErrValidation)
	ErrInvalidPostLimit    = fmt.Errorf("%w: post_limit must be between 1 and %d", ErrValidation, MaxPostLimit)
	ErrInvalidMessageLimit = fmt.Errorf("%w: message_limit must be between 1 and %d", ErrValidation, MaxMessageLimit)
	ErrNotAChannel         = fmt.Errorf("%w: entity is not a broadcast channel", ErrValidation)
	ErrUnsupportedEntity   = fmt.Errorf("%w: private chats with users cannot be parsed", ErrValidation)
)

var (
	// ErrCancelled is returned when an operation observes a cancel request.
	ErrCancelled = progress.ErrCancelled
	// ErrAlreadyRunning is returned when the user already has a running parse.
	ErrAlreadyRunning = progress.ErrAlreadyRunning
)
