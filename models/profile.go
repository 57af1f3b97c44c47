package models

import "time"

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Profile carries the public face of a user. Exactly one row per user.
type Profile struct {
	ID          uint      `gorm:"primaryKey" json:"-"`
	UserID      uint      `gorm:"uniqueIndex;not null" json:"user_id"`
	DisplayName string    `gorm:"size:64" json:"display_name"`
	Bio         string    `gorm:"size:500" json:"bio"`
	AvatarURL   string    `gorm:"size:512" json:"avatar_url"`
	Role        string    `gorm:"size:16;not null;default:'user'" json:"role"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"updated_at"`
}
