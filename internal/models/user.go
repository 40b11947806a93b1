package models

import "time"

// User is an account of the service. Accounts are provisioned by admin tooling;
// the API only reads them to authorize requests.
type User struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Email       string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	IsActive    bool      `json:"is_active" gorm:"not null"`
	IsSuperuser bool      `json:"is_superuser" gorm:"not null;default:false"`
	CanParse    bool      `json:"can_parse" gorm:"not null;default:false"`
	CreatedAt   time.Time `json:"created_at"`
}

// TelegramSession is a saved MTProto session of a user's own Telegram account.
// The session string is either a gotgproto string session or a Telethon one.
type TelegramSession struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	UserID        uint      `json:"user_id" gorm:"index;not null"`
	Phone         string    `json:"phone" gorm:"size:32"`
	SessionString string    `json:"-" gorm:"type:text;not null"`
	IsActive      bool      `json:"is_active" gorm:"not null"`
	CreatedAt     time.Time `json:"created_at"`
}
