package models

import "time"

// HeroSlide is one banner of the homepage carousel.
type HeroSlide struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Title     string    `gorm:"size:255" json:"title"`
	Subtitle  string    `gorm:"size:500" json:"subtitle"`
	ImageURL  string    `gorm:"size:1024;not null" json:"image_url"`
	LinkURL   string    `gorm:"size:1024" json:"link_url"`
	SortOrder int       `gorm:"index;not null;default:0" json:"sort_order"`
	Active    bool      `gorm:"index;not null;default:true" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
