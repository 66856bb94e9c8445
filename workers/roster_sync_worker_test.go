package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"fantasy-match-engine/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.Team{}, &models.TeamPlayer{}))
	return db
}

// rosterService serves whatever teams are queued and records the since parameters it saw.
type rosterService struct {
	mu     sync.Mutex
	teams  []RemoteTeam
	sinces []string
	status int
}

func (s *rosterService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.URL.Path != "/api/v1/public/rosters" || r.Header.Get("X-Service-Token") != "svc-token" {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	s.sinces = append(s.sinces, r.URL.Query().Get("since"))
	if s.status != 0 {
		http.Error(w, "unavailable", s.status)
		return
	}
	_ = json.NewEncoder(w).Encode(GetRosterChangesResponse{Teams: s.teams})
}

func TestSyncOnceUpsertsTeamsAndReplacesPlayers(t *testing.T) {
	db := newTestDB(t)
	owner := uuid.NewString()
	svc := &rosterService{teams: []RemoteTeam{{
		OwnerID:       owner,
		Name:          "Rovers",
		OwnerName:     "ann",
		CosmeticSlots: []string{"gold-kit"},
		Players: []RemotePlayer{
			{ID: "p1", Name: "Keeper", Position: "GK", Starter: true},
			{ID: "p2", Name: "Sub", Position: "FW"},
		},
	}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	w := NewRosterSyncWorker(db, zaptest.NewLogger(t), srv.URL, "svc-token", time.Minute)
	require.NoError(t, w.SyncOnce(context.Background()))

	var team models.Team
	require.NoError(t, db.Preload("Players").Where("owner_id = ?", owner).First(&team).Error)
	assert.Equal(t, "Rovers", team.Name)
	assert.Equal(t, [3]string{"gold-kit", "", ""}, team.CosmeticSlots.Data())
	assert.Len(t, team.Players, 2)
	firstID := team.ID

	svc.mu.Lock()
	svc.teams[0].Name = "Rovers FC"
	svc.teams[0].Players = []RemotePlayer{{ID: "p9", Name: "Captain", Position: "MF", Starter: true}}
	svc.mu.Unlock()
	require.NoError(t, w.SyncOnce(context.Background()))

	var updated models.Team
	require.NoError(t, db.Preload("Players").Where("owner_id = ?", owner).First(&updated).Error)
	assert.Equal(t, firstID, updated.ID)
	assert.Equal(t, "Rovers FC", updated.Name)
	require.Len(t, updated.Players, 1)
	assert.Equal(t, "p9", updated.Players[0].PlayerID)

	var teams, players int64
	require.NoError(t, db.Model(&models.Team{}).Count(&teams).Error)
	require.NoError(t, db.Model(&models.TeamPlayer{}).Count(&players).Error)
	assert.EqualValues(t, 1, teams)
	assert.EqualValues(t, 1, players)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.sinces, 2)
	assert.Equal(t, "0001-01-01T00:00:00Z", svc.sinces[0])
	assert.NotEqual(t, svc.sinces[0], svc.sinces[1])
}

func TestSyncOnceSkipsTeamsWithoutOwner(t *testing.T) {
	db := newTestDB(t)
	svc := &rosterService{teams: []RemoteTeam{
		{Name: "Orphans"},
		{OwnerID: uuid.NewString(), Name: "Rovers"},
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	w := NewRosterSyncWorker(db, zaptest.NewLogger(t), srv.URL, "svc-token", time.Minute)
	require.NoError(t, w.SyncOnce(context.Background()))

	var teams int64
	require.NoError(t, db.Model(&models.Team{}).Count(&teams).Error)
	assert.EqualValues(t, 1, teams)
	assert.True(t, w.lastSync.IsZero(), "a partial sync must be retried from the same point")
}

func TestSyncOnceReportsServiceErrors(t *testing.T) {
	db := newTestDB(t)
	svc := &rosterService{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	w := NewRosterSyncWorker(db, zaptest.NewLogger(t), srv.URL, "svc-token", time.Minute)
	err := w.SyncOnce(context.Background())
	assert.ErrorContains(t, err, "503")
}
