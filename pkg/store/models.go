package store

import (
	"time"
)

// MessageModel is the GORM mapping of the messages table.
type MessageModel struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	UserID    string    `gorm:"not null;index:idx_messages_user_created,priority:1"`
	Role      string    `gorm:"not null"`
	Text      *string   `gorm:"type:text"`
	ImageURL  *string   `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_user_created,priority:2"`
}

// TableName implements the GORM tabler interface.
func (MessageModel) TableName() string { return "messages" }
