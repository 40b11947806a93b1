// Package parser scans Telegram groups and channels and persists what it
// finds: member and commenter scanners, the parse orchestrator, bot-token
// rotation for public lookups, and the background manager.
package parser

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/blockedby/tgparser/internal/models"
	"github.com/blockedby/tgparser/internal/telegram"
)

const (
	// MaxPostLimit caps the posts a channel parse may inspect.
	MaxPostLimit = 100
	// MaxMessageLimit caps the messages a recent-senders parse may inspect.
	MaxMessageLimit = 1000
	// DefaultMessageLimit is used when a recent-senders parse gives no limit.
	DefaultMessageLimit = 100
)

// Client is the Telegram request surface used while parsing.
// *telegram.API implements it.
type Client interface {
	telegram.EntitySource
	FullInfo(ctx context.Context, e telegram.Entity) (telegram.FullInfo, error)
	Participants(ctx context.Context, e telegram.Entity, filter telegram.ParticipantFilter, offset, limit int) (telegram.ParticipantPage, error)
	History(ctx context.Context, e telegram.Entity, offsetID, limit int) (telegram.MessagePage, error)
	Replies(ctx context.Context, e telegram.Entity, msgID, offsetID, limit int) (telegram.MessagePage, error)
}

// Mode selects what a parse collects.
type Mode string

const (
	ModeMembers Mode = "members" // full participant list
	ModeRecent  Mode = "recent"  // senders of recent group messages
	ModeChannel Mode = "channel" // commenters under recent channel posts
)

// ParseRequest describes one parse operation.
type ParseRequest struct {
	UserID       uint
	Link         string
	Mode         Mode
	MessageLimit int
	PostLimit    int
	SavePosts    bool
}

// Validate checks the request without touching the network.
func (r *ParseRequest) Validate() error {
	r.Link = strings.TrimSpace(r.Link)
	if r.Link == "" {
		return ErrLinkRequired
	}
	if _, err := telegram.ParseIdentifier(r.Link); err != nil {
		return err
	}

	switch r.Mode {
	case ModeMembers:
	case ModeRecent:
		if r.MessageLimit == 0 {
			r.MessageLimit = DefaultMessageLimit
		}
		if r.MessageLimit < 0 || r.MessageLimit > MaxMessageLimit {
			return ErrInvalidMessageLimit
		}
	case ModeChannel:
		return ValidatePostLimit(r.PostLimit)
	default:
		return ErrInvalidMode
	}
	return nil
}

// ValidatePostLimit accepts limits in (0, MaxPostLimit].
func ValidatePostLimit(n int) error {
	if n <= 0 || n > MaxPostLimit {
		return ErrInvalidPostLimit
	}
	return nil
}

// MemberRecord is a normalized member or commenter.
type MemberRecord struct {
	UserID    int64
	Username  string
	FirstName string
	LastName  string
	Phone     string
	IsBot     bool
	IsAdmin   bool
	IsPremium bool
}

func recordFromUser(u telegram.User, admin bool) MemberRecord {
	return MemberRecord{
		UserID:    u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Phone:     u.Phone,
		IsBot:     u.Bot,
		IsAdmin:   admin,
		IsPremium: u.Premium,
	}
}

// Model converts the record into a member row.
func (m MemberRecord) Model() models.Member {
	return models.Member{
		UserID:    strconv.FormatInt(m.UserID, 10),
		Username:  m.Username,
		FirstName: m.FirstName,
		LastName:  m.LastName,
		Phone:     m.Phone,
		IsBot:     m.IsBot,
		IsAdmin:   m.IsAdmin,
		IsPremium: m.IsPremium,
	}
}

// PostRecord is a channel post with its comments, kept when SavePosts is set.
type PostRecord struct {
	ID       int
	Text     string
	Date     time.Time
	Views    int
	Replies  int
	Comments []CommentRecord
}

// CommentRecord is one reply in a post's discussion thread.
type CommentRecord struct {
	ID        int
	SenderID  int64
	Username  string
	Text      string
	Date      time.Time
	ReplyToID int
}

// Model converts the record into a post row with its comments.
func (p PostRecord) Model() models.Post {
	post := models.Post{
		PostID:        p.ID,
		Text:          p.Text,
		Date:          p.Date,
		Views:         p.Views,
		CommentsCount: p.Replies,
	}
	for _, c := range p.Comments {
		row := models.Comment{
			CommentID: c.ID,
			Username:  c.Username,
			Text:      c.Text,
			Date:      c.Date,
		}
		if c.SenderID != 0 {
			row.UserID = strconv.FormatInt(c.SenderID, 10)
		}
		// replies to the post itself are top-level comments
		if c.ReplyToID != 0 && c.ReplyToID != p.ID {
			id := c.ReplyToID
			row.RepliedToID = &id
		}
		post.Comments = append(post.Comments, row)
	}
	return post
}

// dedup keeps insertion order and the first record seen per user.
type dedup struct {
	seen    map[int64]struct{}
	records []MemberRecord
}

func newDedup() *dedup {
	return &dedup{seen: map[int64]struct{}{}}
}

// add reports whether the user was new.
func (d *dedup) add(r MemberRecord) bool {
	if _, ok := d.seen[r.UserID]; ok {
		return false
	}
	d.seen[r.UserID] = struct{}{}
	d.records = append(d.records, r)
	return true
}

func (d *dedup) len() int { return len(d.records) }
