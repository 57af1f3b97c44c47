package models

import "time"

// Place categories accepted on posts.
const (
	CategoryRestaurant = "restaurant"
	CategoryAttraction = "attraction"
	CategoryHotel      = "hotel"
)

// Categories lists the valid post categories in display order.
var Categories = []string{CategoryRestaurant, CategoryAttraction, CategoryHotel}

// Post is a place shared by a user.
type Post struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	UserID      uint      `gorm:"index;not null" json:"user_id"`
	Title       string    `gorm:"size:255;not null" json:"title"`
	Description string    `gorm:"type:text;not null" json:"description"`
	Category    string    `gorm:"size:32;index;not null" json:"category"`
	Address     string    `gorm:"size:255" json:"address"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	ImageURL    string    `gorm:"size:1024" json:"image_url"`
	Rating      *float64  `json:"rating"`
	ViewCount   int64     `gorm:"not null;default:0" json:"view_count"`
	CreatedAt   time.Time `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	User        User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"author"`

	FavoriteCount int64 `gorm:"-" json:"favorite_count"`
	IsFavorited   *bool `gorm:"-" json:"is_favorited,omitempty"`
}
