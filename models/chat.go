package models

import "time"

// ChatMessage is one line of a chat room. Rooms are "lobby" or "post:<id>".
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Room      string    `gorm:"size:64;not null;index" json:"room"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Content   string    `gorm:"type:text" json:"content"`
	ImageURL  string    `gorm:"size:1024" json:"image_url"`
	CreatedAt time.Time `json:"created_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`
}

// TableName keeps the historical table name.
func (ChatMessage) TableName() string { return "chats" }
