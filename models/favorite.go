package models

import "time"

// Favorite marks a post as saved by a user. The pair is unique.
type Favorite struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;uniqueIndex:idx_favorite_user_post" json:"user_id"`
	PostID    uint      `gorm:"not null;index;uniqueIndex:idx_favorite_user_post" json:"post_id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	Post      Post      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"post"`
}
