package services

import (
	"context"
	"fmt"
	"time"

	"fantasy-match-engine/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccountDelta is the accumulated change for one rating account in a reconcile run.
type AccountDelta struct {
	AccountID   string
	Rating      int
	Currency    int64
	GamesPlayed int
}

// OpenMatches lists the accounts that still wait on a pending or claimed match.
type OpenMatches struct {
	Human map[string]bool
	AI    map[string]bool
}

// AccountStore reads the cohort and applies reconciled deltas.
type AccountStore interface {
	NextAccountPage(ctx context.Context, afterID string, limit int) ([]models.RatingAccount, error)
	// ApplyReconciliation marks the claimedRows history rows held by claimID
	// reconciled and writes every chunk of deltas with one batched statement per
	// chunk, all in one transaction. It returns the number of accounts updated.
	ApplyReconciliation(ctx context.Context, claimID string, claimedRows int, chunks [][]AccountDelta) (int, error)
}

// MatchStore holds pending matches and records their results.
type MatchStore interface {
	OpenMatchParticipants(ctx context.Context, accountIDs []string) (OpenMatches, error)
	CreateMatches(ctx context.Context, matches []models.PendingMatch) error
	NextPendingMatches(ctx context.Context, afterID string, limit int) ([]models.PendingMatch, error)
	ClaimMatches(ctx context.Context, claimID string, ids []string) ([]models.PendingMatch, error)
	// RecordResults stores history rows, marks their matches resolved and puts
	// failed matches back to pending, all in one transaction. Matches no longer
	// held by claimID are left alone. It returns the number of history rows written.
	RecordResults(ctx context.Context, claimID string, history []models.GameHistory, resolved, released []string) (int, error)
	ReleaseMatchClaims(ctx context.Context, claimID string) (int64, error)
	ClearMatches(ctx context.Context) (int64, error)
}

// HistoryStore reads game history for reconciliation and archival.
type HistoryStore interface {
	NextUnreconciledHistory(ctx context.Context, afterID string, limit int) ([]models.GameHistory, error)
	ClaimHistory(ctx context.Context, claimID string, ids []string) ([]models.GameHistory, error)
	ReleaseHistoryClaims(ctx context.Context, claimID string) (int64, error)
	NextHistoryPage(ctx context.Context, afterID string, limit int) ([]models.GameHistory, error)
	ClearHistory(ctx context.Context) (int64, error)
}

// DefaultClaimTTL is how long a claim holds before another run may take the rows over.
const DefaultClaimTTL = 30 * time.Minute

// Store implements the engine's stores on top of gorm.
type Store struct {
	DB *gorm.DB
	// ClaimTTL bounds how long rows stay claimed by a run that never finished.
	ClaimTTL time.Duration
}

func NewStore(db *gorm.DB) *Store {
	return &Store{DB: db, ClaimTTL: DefaultClaimTTL}
}

// AutoMigrate creates or updates every table the engine owns.
func (s *Store) AutoMigrate() error {
	return s.DB.AutoMigrate(
		&models.RatingAccount{},
		&models.PendingMatch{},
		&models.GameHistory{},
		&models.Team{},
		&models.TeamPlayer{},
	)
}

// staleBefore is the claimed_at cutoff below which a claim is abandoned.
func (s *Store) staleBefore() time.Time {
	ttl := s.ClaimTTL
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return time.Now().Add(-ttl)
}

// claimable matches rows that are pending or whose claim went stale.
const claimable = "(status = ? OR (status = ? AND claimed_at < ?))"

// --- rating accounts ---

func (s *Store) NextAccountPage(ctx context.Context, afterID string, limit int) ([]models.RatingAccount, error) {
	var accounts []models.RatingAccount
	err := s.DB.WithContext(ctx).
		Select("id", "rating").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&accounts).Error
	if err != nil {
		return nil, fmt.Errorf("read rating accounts after %q: %w", afterID, err)
	}
	return accounts, nil
}

func (s *Store) ApplyReconciliation(ctx context.Context, claimID string, claimedRows int, chunks [][]AccountDelta) (int, error) {
	var updated int
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.GameHistory{}).
			Where("claim_id = ? AND status = ?", claimID, models.HistoryStatusClaimed).
			Updates(map[string]any{"status": models.HistoryStatusReconciled, "claim_id": nil, "claimed_at": nil})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != int64(claimedRows) {
			return fmt.Errorf("%w: held %d of %d history rows", ErrClaimLost, res.RowsAffected, claimedRows)
		}

		for _, chunk := range chunks {
			n, err := applyAccountDeltas(tx, chunk)
			if err != nil {
				return err
			}
			updated += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply reconciliation %s: %w", claimID, err)
	}
	return updated, nil
}

// applyAccountDeltas locks the chunk's accounts and writes them back with one
// INSERT .. ON CONFLICT. Unknown accounts are skipped.
func applyAccountDeltas(tx *gorm.DB, deltas []AccountDelta) (int, error) {
	if len(deltas) == 0 {
		return 0, nil
	}
	byID := make(map[string]AccountDelta, len(deltas))
	ids := make([]string, 0, len(deltas))
	for _, d := range deltas {
		byID[d.AccountID] = d
		ids = append(ids, d.AccountID)
	}

	var accounts []models.RatingAccount
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&accounts).Error; err != nil {
		return 0, fmt.Errorf("lock %d accounts: %w", len(ids), err)
	}
	if len(accounts) == 0 {
		return 0, nil
	}

	now := time.Now()
	for i := range accounts {
		d := byID[accounts[i].ID]
		accounts[i].Rating += d.Rating
		accounts[i].Currency += d.Currency
		accounts[i].GamesPlayed += d.GamesPlayed
		accounts[i].UpdatedAt = now
	}

	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"rating", "currency", "games_played", "updated_at"}),
	}).Create(&accounts).Error; err != nil {
		return 0, fmt.Errorf("write %d accounts: %w", len(accounts), err)
	}
	return len(accounts), nil
}

// --- pending matches ---

// OpenMatchParticipants reports which of accountIDs still wait on a match,
// split by human and AI matches.
func (s *Store) OpenMatchParticipants(ctx context.Context, accountIDs []string) (OpenMatches, error) {
	open := OpenMatches{Human: make(map[string]bool), AI: make(map[string]bool)}
	if len(accountIDs) == 0 {
		return open, nil
	}

	var rows []models.PendingMatch
	err := s.DB.WithContext(ctx).
		Select("participant_one_id", "participant_two_id", "is_ai_match").
		Where("status IN ?", []string{string(models.MatchStatusPending), string(models.MatchStatusClaimed)}).
		Where("participant_one_id IN ? OR participant_two_id IN ?", accountIDs, accountIDs).
		Find(&rows).Error
	if err != nil {
		return open, fmt.Errorf("read open matches: %w", err)
	}
	for _, m := range rows {
		if m.IsAIMatch {
			open.AI[m.ParticipantOneID] = true
			continue
		}
		open.Human[m.ParticipantOneID] = true
		if m.ParticipantTwoID != nil {
			open.Human[*m.ParticipantTwoID] = true
		}
	}
	return open, nil
}

func (s *Store) CreateMatches(ctx context.Context, matches []models.PendingMatch) error {
	if len(matches) == 0 {
		return nil
	}
	if err := s.DB.WithContext(ctx).CreateInBatches(&matches, 500).Error; err != nil {
		return fmt.Errorf("create %d pending matches: %w", len(matches), err)
	}
	return nil
}

// NextPendingMatches pages through matches waiting on a result, including
// matches whose claim went stale.
func (s *Store) NextPendingMatches(ctx context.Context, afterID string, limit int) ([]models.PendingMatch, error) {
	var matches []models.PendingMatch
	err := s.DB.WithContext(ctx).
		Where("id > ?", afterID).
		Where(claimable, models.MatchStatusPending, models.MatchStatusClaimed, s.staleBefore()).
		Order("id ASC").
		Limit(limit).
		Find(&matches).Error
	if err != nil {
		return nil, fmt.Errorf("read pending matches after %q: %w", afterID, err)
	}
	return matches, nil
}

func (s *Store) ClaimMatches(ctx context.Context, claimID string, ids []string) ([]models.PendingMatch, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := s.DB.WithContext(ctx)
	err := db.Model(&models.PendingMatch{}).
		Where("id IN ?", ids).
		Where(claimable, models.MatchStatusPending, models.MatchStatusClaimed, s.staleBefore()).
		Updates(map[string]any{"status": models.MatchStatusClaimed, "claim_id": claimID, "claimed_at": time.Now()}).Error
	if err != nil {
		return nil, fmt.Errorf("claim %d matches: %w", len(ids), err)
	}

	var claimed []models.PendingMatch
	if err := db.Where("claim_id = ? AND id IN ?", claimID, ids).Order("id ASC").Find(&claimed).Error; err != nil {
		return nil, fmt.Errorf("read claimed matches: %w", err)
	}
	return claimed, nil
}

func (s *Store) RecordResults(ctx context.Context, claimID string, history []models.GameHistory, resolved, released []string) (int, error) {
	var recorded int
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var held []string
		if err := tx.Model(&models.PendingMatch{}).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("claim_id = ? AND status = ?", claimID, models.MatchStatusClaimed).
			Pluck("id", &held).Error; err != nil {
			return err
		}
		stillHeld := make(map[string]bool, len(held))
		for _, id := range held {
			stillHeld[id] = true
		}

		var rows []models.GameHistory
		for _, h := range history {
			if stillHeld[h.PendingMatchID] {
				rows = append(rows, h)
			}
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(&rows, 200).Error; err != nil {
				return err
			}
		}
		recorded = len(rows)

		if ids := heldOnly(resolved, stillHeld); len(ids) > 0 {
			if err := tx.Model(&models.PendingMatch{}).Where("id IN ?", ids).
				Updates(map[string]any{"status": models.MatchStatusResolved, "claim_id": nil, "claimed_at": nil}).Error; err != nil {
				return err
			}
		}
		if ids := heldOnly(released, stillHeld); len(ids) > 0 {
			if err := tx.Model(&models.PendingMatch{}).Where("id IN ?", ids).
				Updates(map[string]any{"status": models.MatchStatusPending, "claim_id": nil, "claimed_at": nil}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record %d results: %w", len(history), err)
	}
	return recorded, nil
}

func heldOnly(ids []string, held map[string]bool) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if held[id] {
			out = append(out, id)
		}
	}
	return out
}

// ReleaseMatchClaims puts every match still claimed by claimID back to pending.
func (s *Store) ReleaseMatchClaims(ctx context.Context, claimID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.PendingMatch{}).
		Where("claim_id = ? AND status = ?", claimID, models.MatchStatusClaimed).
		Updates(map[string]any{"status": models.MatchStatusPending, "claim_id": nil, "claimed_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("release match claim %s: %w", claimID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) ClearMatches(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.PendingMatch{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear pending matches: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// --- game history ---

// NextUnreconciledHistory pages through history not yet applied to accounts,
// including rows whose claim went stale.
func (s *Store) NextUnreconciledHistory(ctx context.Context, afterID string, limit int) ([]models.GameHistory, error) {
	var rows []models.GameHistory
	err := s.DB.WithContext(ctx).
		Where("id > ?", afterID).
		Where(claimable, models.HistoryStatusPending, models.HistoryStatusClaimed, s.staleBefore()).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read history after %q: %w", afterID, err)
	}
	return rows, nil
}

func (s *Store) ClaimHistory(ctx context.Context, claimID string, ids []string) ([]models.GameHistory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	db := s.DB.WithContext(ctx)
	err := db.Model(&models.GameHistory{}).
		Where("id IN ?", ids).
		Where(claimable, models.HistoryStatusPending, models.HistoryStatusClaimed, s.staleBefore()).
		Updates(map[string]any{"status": models.HistoryStatusClaimed, "claim_id": claimID, "claimed_at": time.Now()}).Error
	if err != nil {
		return nil, fmt.Errorf("claim %d history rows: %w", len(ids), err)
	}

	var claimed []models.GameHistory
	if err := db.Where("claim_id = ? AND id IN ?", claimID, ids).Order("id ASC").Find(&claimed).Error; err != nil {
		return nil, fmt.Errorf("read claimed history: %w", err)
	}
	return claimed, nil
}

// ReleaseHistoryClaims puts every history row still claimed by claimID back to pending.
func (s *Store) ReleaseHistoryClaims(ctx context.Context, claimID string) (int64, error) {
	res := s.DB.WithContext(ctx).Model(&models.GameHistory{}).
		Where("claim_id = ? AND status = ?", claimID, models.HistoryStatusClaimed).
		Updates(map[string]any{"status": models.HistoryStatusPending, "claim_id": nil, "claimed_at": nil})
	if res.Error != nil {
		return 0, fmt.Errorf("release history claim %s: %w", claimID, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) NextHistoryPage(ctx context.Context, afterID string, limit int) ([]models.GameHistory, error) {
	var rows []models.GameHistory
	err := s.DB.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("read history after %q: %w", afterID, err)
	}
	return rows, nil
}

func (s *Store) ClearHistory(ctx context.Context) (int64, error) {
	res := s.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&models.GameHistory{})
	if res.Error != nil {
		return 0, fmt.Errorf("clear game history: %w", res.Error)
	}
	return res.RowsAffected, nil
}
