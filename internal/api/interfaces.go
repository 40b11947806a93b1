package api

import (
	"context"

	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/parser"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/repository"
)

// Store is the data access the API reads and writes.
// *repository.Store implements it.
type Store interface {
	ListGroups(ctx context.Context, userID uint, p repository.Page) (*repository.PageResult[models.Group], error)
	GetGroup(ctx context.Context, userID, id uint) (*models.Group, error)
	DeleteGroup(ctx context.Context, id uint) error
	ListMembers(ctx context.Context, groupID uint, p repository.Page) (*repository.PageResult[models.Member], error)
	ListPosts(ctx context.Context, groupID uint, p repository.Page) (*repository.PageResult[models.Post], error)
	GetPost(ctx context.Context, userID, id uint) (*models.Post, error)
	ListComments(ctx context.Context, postID uint, p repository.Page) (*repository.PageResult[models.Comment], error)

	ListSessions(ctx context.Context, userID uint) ([]models.TelegramSession, error)
	CreateSession(ctx context.Context, sess *models.TelegramSession) error
	ActivateSession(ctx context.Context, userID, id uint) (bool, error)
	DeleteSession(ctx context.Context, userID, id uint) (bool, error)
}

// ParseService runs parses in the background.
// *parser.Manager implements it.
type ParseService interface {
	Start(ctx context.Context, req parser.ParseRequest) (*parser.Job, error)
	Cancel(userID uint) bool
	Progress(userID uint) (progress.State, bool)
}

// Lookuper resolves public entities.
// *parser.Lookup implements it.
type Lookuper interface {
	Lookup(ctx context.Context, link string) (*parser.LookupResult, error)
}
