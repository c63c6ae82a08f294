package models

import "time"

// AudioFile records metadata of an uploaded track. Rows are created only after
// the bytes are stored and are never updated in place.
type AudioFile struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Filename    string     `gorm:"size:255;not null" json:"filename"`
	Filepath    string     `gorm:"size:1024;not null" json:"filepath"` // absolute path or object URL
	Description string     `gorm:"type:text" json:"description"`
	ContentType string     `gorm:"size:128" json:"content_type"`
	Size        int64      `json:"size"`
	OwnerID     uint       `gorm:"not null;index" json:"owner_id"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime:false" json:"updated_at"`
}

// TableName keeps the historical table name.
func (AudioFile) TableName() string {
	return "audio_files"
}
