package models

import "time"

// News is an admin-authored article. Only published rows are public.
type News struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	AuthorID    uint       `gorm:"index" json:"author_id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Summary     string     `gorm:"size:500" json:"summary"`
	Content     string     `gorm:"type:text;not null" json:"content"`
	ImageURL    string     `gorm:"size:1024" json:"image_url"`
	Published   bool       `gorm:"index;not null;default:false" json:"published"`
	PublishedAt *time.Time `gorm:"index" json:"published_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
