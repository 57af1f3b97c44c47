package models

import "time"

// PostView stores aggregated detail-page views per day and post.
type PostView struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Date      time.Time `gorm:"uniqueIndex:idx_pv_date_post;type:date;not null" json:"date"`
	PostID    uint      `gorm:"index;uniqueIndex:idx_pv_date_post;not null" json:"post_id"`
	Count     int64     `gorm:"not null;default:0" json:"count"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
