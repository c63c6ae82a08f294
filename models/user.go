package models

import (
	"time"

	"gorm.io/gorm"
)

// UsernameMaxLen is the column width of userprofile.username.
const UsernameMaxLen = 50

// UserProfile is an account. Passwords are stored as bcrypt hashes only and
// the hash is empty for accounts provisioned by an identity provider.
type UserProfile struct {
	ID           uint        `gorm:"primaryKey" json:"id"`
	Email        string      `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Username     string      `gorm:"size:50;not null;uniqueIndex" json:"username"`
	PasswordHash string      `gorm:"size:255" json:"-"`
	FirstName    string      `gorm:"size:100" json:"first_name"`
	LastName     string      `gorm:"size:100" json:"last_name"`
	Role         Role        `gorm:"size:16;not null;default:'user'" json:"role"`
	Provider     string      `gorm:"size:32" json:"provider,omitempty"`
	ProviderID   string      `gorm:"size:255" json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	AudioFiles   []AudioFile `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName keeps the historical table name.
func (UserProfile) TableName() string {
	return "userprofile"
}

// BeforeCreate hook ensures timestamps and role are set even when not provided.
func (u *UserProfile) BeforeCreate(tx *gorm.DB) error {
	now := time.Now()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = RoleUser
	}
	return nil
}

// BeforeUpdate ensures the UpdatedAt timestamp is refreshed.
func (u *UserProfile) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}
