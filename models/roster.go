package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Team is the local mirror of an account's fantasy roster.
// Populated by the roster sync worker from the roster service.
type Team struct {
	ID            string                         `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID       string                         `gorm:"type:uuid;uniqueIndex;not null" json:"owner_id"`
	Name          string                         `gorm:"not null" json:"name"`
	OwnerName     string                         `json:"owner_name"`
	CosmeticSlots datatypes.JSONType[[3]string] `json:"cosmetic_slots"`
	Players       []TeamPlayer                   `gorm:"foreignKey:TeamID;constraint:OnDelete:CASCADE" json:"players"`
	CreatedAt     time.Time                      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time                      `json:"updated_at" gorm:"autoUpdateTime"`
}

// TeamPlayer is one card in a team, either starting or on the bench.
type TeamPlayer struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	TeamID   string `gorm:"type:uuid;index;not null" json:"team_id"`
	PlayerID string `gorm:"not null" json:"player_id"`
	Name     string `gorm:"not null" json:"name"`
	Position string `gorm:"type:varchar(16)" json:"position"`
	Starter  bool   `gorm:"not null;default:false" json:"starter"`
}

func (t *Team) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func (p *TeamPlayer) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Starters returns the starting players in roster order.
func (t Team) Starters() []TeamPlayer {
	var out []TeamPlayer
	for _, p := range t.Players {
		if p.Starter {
			out = append(out, p)
		}
	}
	return out
}

// Bench returns the non-starting players in roster order.
func (t Team) Bench() []TeamPlayer {
	var out []TeamPlayer
	for _, p := range t.Players {
		if !p.Starter {
			out = append(out, p)
		}
	}
	return out
}
