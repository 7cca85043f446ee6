package store

import "time"

// User is one person who has written to the bot.
type User struct {
	ID            int64   `gorm:"primaryKey;autoIncrement:false"`
	Username      *string `gorm:"size:32"`
	MessagesCount int     `gorm:"column:messages_count;not null;default:0"`
	// LastActive is in Unix milliseconds.
	LastActive int64 `gorm:"column:last_active;not null;index"`
}

func (User) TableName() string { return "users" }

// LastSeen returns LastActive as a time.
func (u User) LastSeen() time.Time {
	return time.UnixMilli(u.LastActive)
}

// DisplayName returns the username, or "Anonymous" when unknown.
func (u User) DisplayName() string {
	if u.Username == nil || *u.Username == "" {
		return "Anonymous"
	}
	return *u.Username
}

// ChatHistory holds a user's conversation as a JSON array of messages.
type ChatHistory struct {
	UserID   int64  `gorm:"column:user_id;primaryKey;autoIncrement:false"`
	Messages string `gorm:"column:messages;type:text;not null"`
}

func (ChatHistory) TableName() string { return "chat_hist" }
