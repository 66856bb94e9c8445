// workers/roster_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"fantasy-match-engine/metrics"
	"fantasy-match-engine/models"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemotePlayer is one card as the roster service reports it.
type RemotePlayer struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position string `json:"position"`
	Starter  bool   `json:"starter"`
}

// RemoteTeam is one roster in the roster service response.
type RemoteTeam struct {
	OwnerID       string         `json:"owner_id"`
	Name          string         `json:"name"`
	OwnerName     string         `json:"owner_name"`
	CosmeticSlots []string       `json:"cosmetic_slots"`
	Players       []RemotePlayer `json:"players"`
}

// GetRosterChangesResponse is the top-level roster service response.
type GetRosterChangesResponse struct {
	Teams []RemoteTeam `json:"teams"`
}

// RosterSyncWorker mirrors rosters from the roster service into the teams table
// so the resolve phase can look them up locally.
type RosterSyncWorker struct {
	db           *gorm.DB
	logger       *zap.Logger
	interval     time.Duration
	baseURL      string // e.g. "http://localhost:8500"
	endpointPath string // e.g. "/api/v1/public/rosters"
	serviceToken string
	httpClient   *http.Client

	lastSync time.Time
}

func NewRosterSyncWorker(db *gorm.DB, logger *zap.Logger, rosterServiceURL, serviceToken string, interval time.Duration) *RosterSyncWorker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &RosterSyncWorker{
		db:           db,
		logger:       logger.Named("roster_sync"),
		interval:     interval,
		baseURL:      rosterServiceURL,
		endpointPath: "/api/v1/public/rosters",
		serviceToken: serviceToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Start runs a full backfill and then incremental syncs until ctx is done.
func (w *RosterSyncWorker) Start(ctx context.Context) {
	w.logger.Info("🔁 starting roster sync worker", zap.Duration("interval", w.interval))
	go w.run(ctx)
}

func (w *RosterSyncWorker) run(ctx context.Context) {
	if err := w.SyncOnce(ctx); err != nil {
		w.logger.Warn("⚠️ initial roster sync failed", zap.Error(err))
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.SyncOnce(ctx); err != nil {
				w.logger.Error("❌ roster sync batch failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.logger.Info("⏹️ roster sync worker stopped")
			return
		}
	}
}

// SyncOnce fetches every roster changed since the last successful sync and
// upserts it. The first call fetches everything.
func (w *RosterSyncWorker) SyncOnce(ctx context.Context) error {
	started := time.Now()
	teams, err := w.fetch(ctx, w.lastSync)
	if err != nil {
		metrics.RosterSyncs.WithLabelValues("error").Inc()
		return err
	}

	var upserted, failed int
	for _, remote := range teams {
		if err := w.upsertTeam(ctx, remote); err != nil {
			failed++
			w.logger.Warn("⚠️ failed to upsert team", zap.String("owner_id", remote.OwnerID), zap.Error(err))
			continue
		}
		upserted++
	}

	if failed > 0 {
		metrics.RosterSyncs.WithLabelValues("partial").Inc()
	} else {
		metrics.RosterSyncs.WithLabelValues("ok").Inc()
		w.lastSync = started
	}
	w.logger.Info("✅ roster sync finished",
		zap.Int("received", len(teams)),
		zap.Int("upserted", upserted),
		zap.Int("errors", failed),
	)
	return nil
}

func (w *RosterSyncWorker) fetch(ctx context.Context, since time.Time) ([]RemoteTeam, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid roster service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()
	finalURL := endpointURL.String()

	w.logger.Debug("➡️ fetching roster changes", zap.String("url", finalURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, finalURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request to %s: %w", finalURL, err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to roster service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("roster service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetRosterChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode roster service response: %w", err)
	}
	return response.Teams, nil
}

// upsertTeam writes the team by owner and replaces its players in one transaction.
func (w *RosterSyncWorker) upsertTeam(ctx context.Context, remote RemoteTeam) error {
	if remote.OwnerID == "" {
		return fmt.Errorf("team %q has no owner_id", remote.Name)
	}

	var slots [3]string
	copy(slots[:], remote.CosmeticSlots)

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		team := models.Team{
			OwnerID:       remote.OwnerID,
			Name:          remote.Name,
			OwnerName:     remote.OwnerName,
			CosmeticSlots: datatypes.NewJSONType(slots),
		}
		if err := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "owner_name", "cosmetic_slots", "updated_at"}),
		}).Create(&team).Error; err != nil {
			return err
		}

		// On conflict the stored row keeps its original id.
		var stored models.Team
		if err := tx.Select("id").Where("owner_id = ?", remote.OwnerID).First(&stored).Error; err != nil {
			return err
		}
		if err := tx.Where("team_id = ?", stored.ID).Delete(&models.TeamPlayer{}).Error; err != nil {
			return err
		}
		if len(remote.Players) == 0 {
			return nil
		}

		players := make([]models.TeamPlayer, len(remote.Players))
		for i, p := range remote.Players {
			players[i] = models.TeamPlayer{
				TeamID:   stored.ID,
				PlayerID: p.ID,
				Name:     p.Name,
				Position: p.Position,
				Starter:  p.Starter,
			}
		}
		return tx.Create(&players).Error
	})
}
