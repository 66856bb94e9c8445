package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// HistoryStatus tracks a game history row through the reconcile phase.
type HistoryStatus string

const (
	HistoryStatusPending    HistoryStatus = "pending"
	HistoryStatusClaimed    HistoryStatus = "claimed"
	HistoryStatusReconciled HistoryStatus = "reconciled"
)

// GameHistory is the immutable outcome of one simulated match.
// Result and RatingDelta are [participant one, participant two] pairs.
type GameHistory struct {
	ID               string                      `gorm:"primaryKey;type:uuid" json:"id"`
	PendingMatchID   string                      `gorm:"type:uuid;index" json:"pending_match_id"`
	ParticipantOneID string                      `gorm:"type:uuid;index;not null" json:"participant_one_id"`
	ParticipantTwoID *string                     `gorm:"type:uuid;index" json:"participant_two_id"`
	IsAIMatch        bool                        `gorm:"not null;default:false" json:"is_ai_match"`
	Result           datatypes.JSONType[[2]int] `json:"result"`
	RatingDelta      datatypes.JSONType[[2]int] `json:"rating_delta"`
	Trace            datatypes.JSON              `json:"trace"`
	Status           HistoryStatus               `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ClaimID          *string                     `gorm:"type:uuid;index" json:"-"`
	ClaimedAt        *time.Time                  `gorm:"index" json:"-"`
	CreatedAt        time.Time                   `json:"created_at" gorm:"autoCreateTime"`
}

// TableName stores history rows in game_history.
func (GameHistory) TableName() string {
	return "game_history"
}

func (h *GameHistory) BeforeCreate(tx *gorm.DB) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.Status == "" {
		h.Status = HistoryStatusPending
	}
	return nil
}
