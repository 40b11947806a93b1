package parser

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/telegram"
)

// ChannelScanOptions controls a channel scan.
type ChannelScanOptions struct {
	PostLimit int
	SavePosts bool
}

// ChannelScanResult holds the distinct commenters of the scanned posts.
type ChannelScanResult struct {
	Commenters   []MemberRecord
	Posts        []PostRecord // only with SavePosts
	PostsScanned int
	PostErrors   int
}

// ChannelScanner harvests the commenters of a channel's recent posts.
type ChannelScanner struct {
	log *logger.Logger
}

// NewChannelScanner creates a channel scanner.
func NewChannelScanner(log *logger.Logger) *ChannelScanner {
	if log == nil {
		log = logger.Get()
	}
	return &ChannelScanner{log: log.Component("channel_scanner")}
}

// ScanChannel reads up to PostLimit recent posts and pages through each
// post's discussion thread. A post whose comments cannot be loaded is
// logged and skipped; rate limits and cancellation abort the scan.
func (s *ChannelScanner) ScanChannel(ctx context.Context, api Client, e telegram.Entity, opts ChannelScanOptions, tr *progress.Tracker) (*ChannelScanResult, error) {
	if err := ValidatePostLimit(opts.PostLimit); err != nil {
		return nil, err
	}
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	posts, err := s.recentPosts(ctx, api, e, opts.PostLimit, tr)
	if err != nil {
		return nil, err
	}
	tr.Update(progress.PhaseScanning, 0, len(posts), fmt.Sprintf("Found %d posts", len(posts)))

	res := &ChannelScanResult{}
	commenters := newDedup()

	for i := range posts {
		if err := tr.Check(ctx); err != nil {
			return nil, err
		}

		post := &posts[i]
		if post.Replies > 0 {
			err := s.scanThread(ctx, api, e, post, commenters, tr)
			switch {
			case err == nil:
			case isFatal(err):
				return nil, err
			default:
				post.Comments = nil
				res.PostErrors++
				s.log.Warn().Err(err).Int64("group_id", e.ID).Int("post_id", post.ID).Msg("skipping post comments")
			}
		}
		res.PostsScanned++

		tr.Update(progress.PhaseComments, i+1, len(posts),
			fmt.Sprintf("Processed %d of %d posts, %d commenters", i+1, len(posts), commenters.len()))
	}

	res.Commenters = commenters.records
	if opts.SavePosts {
		res.Posts = posts
	}

	s.log.Info().
		Int64("group_id", e.ID).
		Int("posts", res.PostsScanned).
		Int("post_errors", res.PostErrors).
		Int("commenters", commenters.len()).
		Msg("channel scan finished")
	return res, nil
}

func (s *ChannelScanner) recentPosts(ctx context.Context, api Client, e telegram.Entity, limit int, tr *progress.Tracker) ([]PostRecord, error) {
	var posts []PostRecord
	offsetID := 0
	for len(posts) < limit {
		page, err := api.History(ctx, e, offsetID, min(limit-len(posts), historyPage))
		if err != nil {
			return nil, fmt.Errorf("read posts: %w", err)
		}
		if err := tr.Check(ctx); err != nil {
			return nil, err
		}
		if page.Fetched == 0 {
			break
		}
		offsetID = page.LastID
		for _, m := range page.Messages {
			if len(posts) == limit {
				break
			}
			posts = append(posts, PostRecord{
				ID:      m.ID,
				Text:    m.Text,
				Date:    m.Date,
				Views:   m.Views,
				Replies: m.Replies,
			})
		}
	}
	return posts, nil
}

// scanThread reads a whole discussion thread. Commenters reach out only
// when every page was read.
func (s *ChannelScanner) scanThread(ctx context.Context, api Client, e telegram.Entity, post *PostRecord, out *dedup, tr *progress.Tracker) error {
	thread := newDedup()
	offsetID := 0
	for {
		page, err := api.Replies(ctx, e, post.ID, offsetID, historyPage)
		if err != nil {
			return err
		}
		if err := tr.Check(ctx); err != nil {
			return err
		}
		offsetID = page.LastID

		for _, m := range page.Messages {
			u, known := page.Users[m.SenderID]
			if m.SenderID != 0 {
				if !known {
					u = telegram.User{ID: m.SenderID}
				}
				thread.add(recordFromUser(u, false))
			}
			post.Comments = append(post.Comments, CommentRecord{
				ID:        m.ID,
				SenderID:  m.SenderID,
				Username:  u.Username,
				Text:      m.Text,
				Date:      m.Date,
				ReplyToID: m.ReplyToID,
			})
		}

		if page.Fetched < historyPage {
			for _, r := range thread.records {
				out.add(r)
			}
			return nil
		}
	}
}

// isFatal reports errors that must abort a scan instead of skipping a post.
func isFatal(err error) bool {
	if errors.Is(err, ErrCancelled) {
		return true
	}
	_, limited := telegram.AsRateLimit(err)
	return limited
}
