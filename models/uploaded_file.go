package models

import "time"

// UploadedFile records a stored object. ExpireAt is set while the object is not yet
// referenced by any row; the cleaner removes expired ones.
type UploadedFile struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Bucket      string     `gorm:"size:32;not null;index" json:"bucket"`
	ObjectKey   string     `gorm:"size:512;not null" json:"object_key"`
	FilePath    string     `gorm:"size:1024;not null" json:"-"`
	URL         string     `gorm:"size:1024;not null;index" json:"url"`
	OwnerID     uint       `gorm:"index" json:"owner_id"`
	Size        int64      `json:"size"`
	ContentType string     `gorm:"size:64" json:"content_type"`
	ExpireAt    *time.Time `gorm:"index" json:"expire_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
