package repository

import (
	"context"
	"fmt"

	"github.com/blockedby/tgparser/internal/models"
	"gorm.io/gorm"
)

// CreateGroup inserts a new group row.
func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if err := s.conn(ctx).Create(g).Error; err != nil {
		return fmt.Errorf("create group: %w", err)
	}
	return nil
}

// GetGroupByExternalID returns the user's group for a Telegram id.
func (s *Store) GetGroupByExternalID(ctx context.Context, userID uint, groupID string) (*models.Group, error) {
	var g models.Group
	err := s.conn(ctx).Where("user_id = ? AND group_id = ?", userID, groupID).First(&g).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group by external id: %w", err)
	}
	return &g, nil
}

// GetGroup returns a group by id if it belongs to the user.
func (s *Store) GetGroup(ctx context.Context, userID, id uint) (*models.Group, error) {
	var g models.Group
	err := s.conn(ctx).Where("id = ? AND user_id = ?", id, userID).First(&g).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get group: %w", err)
	}
	return &g, nil
}

// DeleteGroup removes a group with its members, posts and comments.
// Children are deleted explicitly so the cascade does not depend on the
// driver enforcing foreign keys.
func (s *Store) DeleteGroup(ctx context.Context, id uint) error {
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		postIDs := tx.Model(&models.Post{}).Select("id").Where("group_id = ?", id)
		if err := tx.Where("post_id IN (?)", postIDs).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&models.Post{}).Error; err != nil {
			return err
		}
		if err := tx.Where("group_id = ?", id).Delete(&models.Member{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Group{}, id).Error
	})
	if err != nil {
		return fmt.Errorf("delete group %d: %w", id, err)
	}
	return nil
}

// ListGroups returns the user's groups, newest parse first.
func (s *Store) ListGroups(ctx context.Context, userID uint, p Page) (*PageResult[models.Group], error) {
	q := s.conn(ctx).Model(&models.Group{}).Where("user_id = ?", userID)
	res, err := paginate[models.Group](q, p, "parsed_at DESC, id DESC")
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return res, nil
}

// CreateMembersBulk inserts all members of a group in one transaction.
func (s *Store) CreateMembersBulk(ctx context.Context, groupID uint, members []models.Member) error {
	if len(members) == 0 {
		return nil
	}
	for i := range members {
		members[i].GroupID = groupID
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(members, memberBatchSize).Error
	})
	if err != nil {
		return fmt.Errorf("create members: %w", err)
	}
	return nil
}

// ListMembers returns a page of a group's members.
func (s *Store) ListMembers(ctx context.Context, groupID uint, p Page) (*PageResult[models.Member], error) {
	q := s.conn(ctx).Model(&models.Member{}).Where("group_id = ?", groupID)
	res, err := paginate[models.Member](q, p, "id ASC")
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return res, nil
}

// CountMembers returns how many member rows a group has.
func (s *Store) CountMembers(ctx context.Context, groupID uint) (int64, error) {
	var n int64
	if err := s.conn(ctx).Model(&models.Member{}).Where("group_id = ?", groupID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

// CreatePosts inserts channel posts together with their comments.
func (s *Store) CreatePosts(ctx context.Context, groupID uint, posts []models.Post) error {
	if len(posts) == 0 {
		return nil
	}
	for i := range posts {
		posts[i].GroupID = groupID
	}
	err := s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(posts, 100).Error
	})
	if err != nil {
		return fmt.Errorf("create posts: %w", err)
	}
	return nil
}

// ListPosts returns a page of a channel group's posts, newest first.
func (s *Store) ListPosts(ctx context.Context, groupID uint, p Page) (*PageResult[models.Post], error) {
	q := s.conn(ctx).Model(&models.Post{}).Where("group_id = ?", groupID)
	res, err := paginate[models.Post](q, p, "post_id DESC")
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	return res, nil
}

// GetPost returns a post if its group belongs to the user.
func (s *Store) GetPost(ctx context.Context, userID, id uint) (*models.Post, error) {
	var post models.Post
	err := s.conn(ctx).
		Joins("JOIN parsed_groups ON parsed_groups.id = posts.group_id").
		Where("posts.id = ? AND parsed_groups.user_id = ?", id, userID).
		First(&post).Error
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	return &post, nil
}

// ListComments returns a page of a post's comments in thread order.
func (s *Store) ListComments(ctx context.Context, postID uint, p Page) (*PageResult[models.Comment], error) {
	q := s.conn(ctx).Model(&models.Comment{}).Where("post_id = ?", postID)
	res, err := paginate[models.Comment](q, p, "comment_id ASC")
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return res, nil
}
