package parser

import (
	"context"
	"fmt"

	"github.com/blockedby/tgparser/internal/logger"
	"github.com/blockedby/tgparser/internal/progress"
	"github.com/blockedby/tgparser/internal/telegram"
)

// participantsPage is the server-side maximum for channels.getParticipants.
const participantsPage = 200

// historyPage is the server-side maximum for history and replies requests.
const historyPage = 100

// MemberScanner enumerates the members of a group, or the senders of its
// recent messages. Cancellation is probed after every record and every
// network round trip.
type MemberScanner struct {
	log *logger.Logger
}

// NewMemberScanner creates a member scanner.
func NewMemberScanner(log *logger.Logger) *MemberScanner {
	if log == nil {
		log = logger.Get()
	}
	return &MemberScanner{log: log.Component("member_scanner")}
}

// ScanMembers lists administrators first, so they are tagged, then every
// participant. Each user appears once in the result.
func (s *MemberScanner) ScanMembers(ctx context.Context, api Client, e telegram.Entity, tr *progress.Tracker) ([]MemberRecord, error) {
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	out := newDedup()

	admins, err := s.listAll(ctx, api, e, telegram.FilterAdmins, tr, func(u telegram.User, _ int) error {
		out.add(recordFromUser(u, true))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	s.log.Debug().Int64("group_id", e.ID).Int("admins", admins).Msg("admins listed")

	tr.Update(progress.PhaseMembers, out.len(), 0, "Scanning members")

	_, err = s.listAll(ctx, api, e, telegram.FilterRecent, tr, func(u telegram.User, total int) error {
		out.add(recordFromUser(u, false))
		if total < out.len() {
			total = out.len()
		}
		tr.Update(progress.PhaseMembers, out.len(), total,
			fmt.Sprintf("Processed %d of %d members", out.len(), total))
		return tr.Check(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}

	s.log.Info().Int64("group_id", e.ID).Int("members", out.len()).Msg("member scan finished")
	return out.records, nil
}

// listAll pages through participants until the server returns an empty page
// and returns how many users were visited.
func (s *MemberScanner) listAll(ctx context.Context, api Client, e telegram.Entity, filter telegram.ParticipantFilter,
	tr *progress.Tracker, visit func(u telegram.User, total int) error,
) (int, error) {
	offset, visited := 0, 0
	for {
		page, err := api.Participants(ctx, e, filter, offset, participantsPage)
		if err != nil {
			return visited, err
		}
		if err := tr.Check(ctx); err != nil {
			return visited, err
		}
		if len(page.Users) == 0 {
			return visited, nil
		}

		for _, u := range page.Users {
			visited++
			if err := visit(u, page.Total); err != nil {
				return visited, err
			}
		}

		offset += len(page.Users)
		if page.Total > 0 && offset >= page.Total {
			return visited, nil
		}
	}
}

// ScanRecentSenders collects the distinct senders of the last limit
// messages. Messages without a user sender are skipped, and service
// messages do not count towards limit.
func (s *MemberScanner) ScanRecentSenders(ctx context.Context, api Client, e telegram.Entity, limit int, tr *progress.Tracker) ([]MemberRecord, error) {
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if err := tr.Check(ctx); err != nil {
		return nil, err
	}

	out := newDedup()
	processed, offsetID := 0, 0

	for processed < limit {
		page, err := api.History(ctx, e, offsetID, min(limit-processed, historyPage))
		if err != nil {
			return nil, fmt.Errorf("read history: %w", err)
		}
		if err := tr.Check(ctx); err != nil {
			return nil, err
		}
		if page.Fetched == 0 {
			break
		}
		offsetID = page.LastID

		for _, m := range page.Messages {
			if processed >= limit {
				break
			}
			processed++

			if m.SenderID != 0 {
				u, ok := page.Users[m.SenderID]
				if !ok {
					u = telegram.User{ID: m.SenderID}
				}
				out.add(recordFromUser(u, false))
			}

			tr.Update(progress.PhaseComments, processed, limit,
				fmt.Sprintf("Processed %d of %d messages, %d senders", processed, limit, out.len()))
			if err := tr.Check(ctx); err != nil {
				return nil, err
			}
		}
	}

	s.log.Info().Int64("group_id", e.ID).Int("messages", processed).Int("senders", out.len()).Msg("recent senders scan finished")
	return out.records, nil
}
