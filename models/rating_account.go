package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultRating is the rating every new account starts at.
const DefaultRating = 1500

// RatingAccount is the slice of a user profile the match engine owns:
// skill rating, soft currency and the games-played counter.
// Only the reconcile phase writes to it, one batched upsert per chunk.
type RatingAccount struct {
	ID          string    `gorm:"primaryKey;type:uuid" json:"id"`
	Username    string    `gorm:"index;not null" json:"username"`
	Rating      int       `gorm:"not null;index" json:"rating"`
	Currency    int64     `gorm:"not null" json:"currency"`
	GamesPlayed int       `gorm:"not null" json:"games_played"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (a *RatingAccount) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
