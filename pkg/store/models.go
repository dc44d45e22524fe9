package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string  `gorm:"primaryKey"`
	Email        *string `gorm:"uniqueIndex"`
	PasswordHash string
	DisplayName  string
	AvatarKey    string
	// Uniqueness of (provider, external_id) for non-empty external ids is
	// enforced by a partial unique index created during migration.
	Provider   string `gorm:"not null;index:idx_provider_subject"`
	ExternalID string `gorm:"index:idx_provider_subject"`
	Preferences  datatypes.JSON
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type ConversationModel struct {
	ID        string    `gorm:"primaryKey"`
	OwnerID   string    `gorm:"not null;index"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type MessageModel struct {
	ID             string    `gorm:"primaryKey"`
	ConversationID string    `gorm:"not null;index"`
	Role           string    `gorm:"not null"`
	Content        string    `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index"`
}
