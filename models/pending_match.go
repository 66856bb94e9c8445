package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MatchStatus tracks a pending match through the resolve phase.
type MatchStatus string

const (
	MatchStatusPending  MatchStatus = "pending"
	MatchStatusClaimed  MatchStatus = "claimed"
	MatchStatusResolved MatchStatus = "resolved"
)

// PendingMatch is a pairing produced by the create phase and waiting for a
// simulated result. AI matches carry no second participant and no second rating.
type PendingMatch struct {
	ID               string      `gorm:"primaryKey;type:uuid" json:"id"`
	ParticipantOneID string      `gorm:"type:uuid;index;not null" json:"participant_one_id"`
	ParticipantTwoID *string     `gorm:"type:uuid;index" json:"participant_two_id"`
	IsAIMatch        bool        `gorm:"not null;default:false" json:"is_ai_match"`
	RatingOne        int         `gorm:"not null" json:"rating_one"`
	RatingTwo        *int        `json:"rating_two"`
	Status           MatchStatus `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ClaimID          *string     `gorm:"type:uuid;index" json:"-"`
	ClaimedAt        *time.Time  `gorm:"index" json:"-"`
	CreatedAt        time.Time   `json:"created_at" gorm:"autoCreateTime"`
}

func (m *PendingMatch) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = MatchStatusPending
	}
	return nil
}
