package services

import (
	"context"
	"fmt"

	"fantasy-match-engine/models"
)

// RosterLookup resolves the teams of many accounts at once, keyed by owner id.
// Owners without a team are simply absent from the map.
type RosterLookup interface {
	Rosters(ctx context.Context, ownerIDs []string) (map[string]models.Team, error)
}

// defaultCosmeticSlot fills cosmetic slots the roster service left empty.
const defaultCosmeticSlot = "default"

func (s *Store) Rosters(ctx context.Context, ownerIDs []string) (map[string]models.Team, error) {
	out := make(map[string]models.Team, len(ownerIDs))
	if len(ownerIDs) == 0 {
		return out, nil
	}

	var teams []models.Team
	err := s.DB.WithContext(ctx).
		Preload("Players").
		Where("owner_id IN ?", ownerIDs).
		Find(&teams).Error
	if err != nil {
		return nil, fmt.Errorf("lookup rosters for %d owners: %w", len(ownerIDs), err)
	}
	for _, t := range teams {
		out[t.OwnerID] = t
	}
	return out, nil
}

// simTeam converts a roster into the engine's team shape.
// A missing roster becomes an empty side rather than an error.
func simTeam(team models.Team) SimTeam {
	st := SimTeam{
		Name:            team.Name,
		OwnerName:       team.OwnerName,
		CosmeticSlots:   team.CosmeticSlots.Data(),
		BenchPlayers:    []SimPlayer{},
		StartingPlayers: []SimPlayer{},
	}
	for i, slot := range st.CosmeticSlots {
		if slot == "" {
			st.CosmeticSlots[i] = defaultCosmeticSlot
		}
	}
	for _, p := range team.Starters() {
		st.StartingPlayers = append(st.StartingPlayers, SimPlayer{ID: p.PlayerID, Name: p.Name, Position: p.Position})
	}
	for _, p := range team.Bench() {
		st.BenchPlayers = append(st.BenchPlayers, SimPlayer{ID: p.PlayerID, Name: p.Name, Position: p.Position})
	}
	return st
}

// BuildSimulationRequest builds the engine payload for a human-vs-human match.
func BuildSimulationRequest(home, away models.Team) SimulationRequest {
	return SimulationRequest{Teams: [2]SimTeam{simTeam(home), simTeam(away)}}
}
