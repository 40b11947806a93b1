// Package models contains the persisted entities of the parser service.
package models

import "time"

// Group is a scraped Telegram group or channel owned by a user.
// At most one row exists per (user_id, group_id); re-parsing replaces it.
type Group struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        uint      `json:"user_id" gorm:"not null;uniqueIndex:idx_groups_user_group"`
	GroupID       string    `json:"group_id" gorm:"size:64;not null;uniqueIndex:idx_groups_user_group"`
	GroupName     string    `json:"group_name" gorm:"size:255"`
	GroupUsername *string   `json:"group_username,omitempty" gorm:"size:255"`
	MemberCount   int       `json:"member_count"`
	IsPublic      bool      `json:"is_public"`
	IsChannel     bool      `json:"is_channel"`
	ParsedAt      time.Time `json:"parsed_at"`

	Members []Member `json:"-" gorm:"constraint:OnDelete:CASCADE"`
	Posts   []Post   `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// TableName keeps the table name clear of the SQL GROUPS keyword.
func (Group) TableName() string { return "parsed_groups" }

// Member is one distinct Telegram user found in a group's scan.
type Member struct {
	ID        uint   `json:"id" gorm:"primaryKey"`
	GroupID   uint   `json:"group_id" gorm:"index;not null"`
	UserID    string `json:"user_id" gorm:"size:64;not null"`
	Username  string `json:"username,omitempty" gorm:"size:255"`
	FirstName string `json:"first_name,omitempty" gorm:"size:255"`
	LastName  string `json:"last_name,omitempty" gorm:"size:255"`
	Phone     string `json:"phone,omitempty" gorm:"size:32"`
	IsBot     bool   `json:"is_bot"`
	IsAdmin   bool   `json:"is_admin"`
	IsPremium bool   `json:"is_premium"`
}

// Post is a channel message kept when a channel parse asks for posts.
type Post struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	GroupID       uint      `json:"group_id" gorm:"index;not null"`
	PostID        int       `json:"post_id" gorm:"not null"`
	Text          string    `json:"text" gorm:"type:text"`
	Date          time.Time `json:"date"`
	Views         int       `json:"views"`
	CommentsCount int       `json:"comments_count"`

	Comments []Comment `json:"-" gorm:"constraint:OnDelete:CASCADE"`
}

// Comment is a reply in a post's discussion thread.
type Comment struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	PostID      uint      `json:"post_id" gorm:"index;not null"`
	CommentID   int       `json:"comment_id" gorm:"not null"`
	UserID      string    `json:"user_id" gorm:"size:64"`
	Username    string    `json:"username,omitempty" gorm:"size:255"`
	Text        string    `json:"text" gorm:"type:text"`
	Date        time.Time `json:"date"`
	RepliedToID *int      `json:"replied_to_id,omitempty"`
}
