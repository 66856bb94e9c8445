package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync/atomic"
	"time"

	"fantasy-match-engine/metrics"
	"fantasy-match-engine/models"
	"fantasy-match-engine/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"
)

const (
	PhaseCreate    = "create"
	PhaseResolve   = "resolve"
	PhaseReconcile = "reconcile"
	PhaseClear     = "clear"
)

// OrchestratorConfig tunes paging and the bound on concurrent outbound work.
type OrchestratorConfig struct {
	PageSize           int
	Concurrency        int
	ChunkSize          int
	CurrencyMultiplier int64
}

var DefaultOrchestratorConfig = OrchestratorConfig{
	PageSize:           1000,
	Concurrency:        16,
	ChunkSize:          500,
	CurrencyMultiplier: 10,
}

// CreateSummary reports a create phase run.
type CreateSummary struct {
	AccountsProcessed int `json:"accounts_processed"`
	MatchesCreated    int `json:"matches_created"`
	AIMatches         int `json:"ai_matches"`
	// AIAlreadyOpen counts odd-one-out accounts that kept their existing AI match.
	AIAlreadyOpen int `json:"ai_already_open"`
}

// ResolveSummary reports a resolve phase run.
type ResolveSummary struct {
	MatchesScanned int `json:"matches_scanned"`
	Simulated      int `json:"simulated"`
	Resolved       int `json:"resolved"`
	Failed         int `json:"failed"`
	AISkipped      int `json:"ai_skipped"`
}

// ReconcileSummary reports a reconcile phase run.
type ReconcileSummary struct {
	HistoryScanned   int   `json:"history_scanned"`
	AccountsUpdated  int   `json:"accounts_updated"`
	RatingDeltaTotal int64 `json:"rating_delta_total"`
}

// ClearSummary reports a clear phase run.
type ClearSummary struct {
	PendingCleared int64  `json:"pending_cleared"`
	HistoryCleared int64  `json:"history_cleared"`
	ArchiveKey     string `json:"archive_key,omitempty"`
	ArchivedRows   int    `json:"archived_rows,omitempty"`
}

// MatchOrchestrator drives the create, resolve, reconcile and clear phases.
// Pages are processed one after another; work inside a page runs under the
// Concurrency bound. Rows are claimed before processing so overlapping runs
// never handle the same match or history row twice.
type MatchOrchestrator struct {
	Accounts  AccountStore
	Matches   MatchStore
	History   HistoryStore
	Rosters   RosterLookup
	Simulator Simulator       // nil means the engine is not configured
	Archiver  HistoryArchiver // optional
	Pairing   *PairingEngine
	Logger    *zap.Logger
	Config    OrchestratorConfig
}

// NewMatchOrchestrator wires an orchestrator over a single gorm store.
func NewMatchOrchestrator(store *Store, sim Simulator, logger *zap.Logger, cfg OrchestratorConfig) *MatchOrchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultOrchestratorConfig.PageSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultOrchestratorConfig.Concurrency
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultOrchestratorConfig.ChunkSize
	}
	if cfg.CurrencyMultiplier == 0 {
		cfg.CurrencyMultiplier = DefaultOrchestratorConfig.CurrencyMultiplier
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatchOrchestrator{
		Accounts:  store,
		Matches:   store,
		History:   store,
		Rosters:   store,
		Simulator: sim,
		Pairing:   NewPairingEngine(nil),
		Logger:    logger,
		Config:    cfg,
	}
}

func (o *MatchOrchestrator) observe(phase string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.PhaseRuns.WithLabelValues(phase, outcome).Inc()
	metrics.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// Create pairs every rating account page by page and stores the pending matches.
// Accounts that still have an open human match sit the run out, and an account
// left over for an AI match keeps the AI match it already has.
func (o *MatchOrchestrator) Create(ctx context.Context) (summary CreateSummary, err error) {
	start := time.Now()
	log := o.Logger.With(zap.String("phase", PhaseCreate))
	defer func() { o.observe(PhaseCreate, start, err) }()

	var created, aiMatches atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.Config.Concurrency)

	cursor := ""
	for {
		page, err := o.Accounts.NextAccountPage(gctx, cursor, o.Config.PageSize)
		if err != nil {
			return summary, firstErr(g.Wait(), err)
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ID
		summary.AccountsProcessed += len(page)

		ids := make([]string, len(page))
		for i, a := range page {
			ids[i] = a.ID
		}
		open, err := o.Matches.OpenMatchParticipants(gctx, ids)
		if err != nil {
			return summary, firstErr(g.Wait(), err)
		}

		cohort := make([]Participant, len(page))
		for i, a := range page {
			cohort[i] = Participant{ID: a.ID, Rating: a.Rating, Matched: open.Human[a.ID]}
		}

		now := time.Now()
		var matches []models.PendingMatch
		var pageAI int64
		for p := range o.Pairing.Pair(cohort) {
			if p.IsAIMatch && open.AI[p.ParticipantOneID] {
				summary.AIAlreadyOpen++
				continue
			}
			matches = append(matches, models.PendingMatch{
				ID:               uuid.NewString(),
				ParticipantOneID: p.ParticipantOneID,
				ParticipantTwoID: p.ParticipantTwoID,
				IsAIMatch:        p.IsAIMatch,
				RatingOne:        p.RatingOne,
				RatingTwo:        p.RatingTwo,
				Status:           models.MatchStatusPending,
				CreatedAt:        now,
			})
			if p.IsAIMatch {
				pageAI++
			}
		}
		if len(matches) == 0 {
			continue
		}

		// Persistence overlaps with reading the next page, bounded by the group limit.
		g.Go(func() error {
			if err := o.Matches.CreateMatches(gctx, matches); err != nil {
				return err
			}
			created.Add(int64(len(matches)))
			aiMatches.Add(pageAI)
			metrics.MatchesCreated.Add(float64(len(matches)))
			return nil
		})
	}

	err = g.Wait()
	summary.MatchesCreated = int(created.Load())
	summary.AIMatches = int(aiMatches.Load())
	if err != nil {
		log.Error("create phase aborted", zap.Error(err), zap.Int("matches_created", summary.MatchesCreated))
		return summary, err
	}

	log.Info("✅ create phase finished",
		zap.String("accounts", utils.Count(summary.AccountsProcessed)),
		zap.String("matches", utils.Count(summary.MatchesCreated)),
		zap.Int("ai_matches", summary.AIMatches),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

// simOutcome is the result slot for one match of a resolve page.
type simOutcome struct {
	match  models.PendingMatch
	result *SimulationResult
}

// Resolve simulates every pending human match and records its history.
// A failed simulation leaves its match pending; it never fails the page.
// When the run aborts, every match it still holds goes back to pending.
func (o *MatchOrchestrator) Resolve(ctx context.Context) (summary ResolveSummary, err error) {
	start := time.Now()
	log := o.Logger.With(zap.String("phase", PhaseResolve))
	defer func() { o.observe(PhaseResolve, start, err) }()

	if o.Simulator == nil {
		return summary, ErrSimulationConfig
	}

	claimID := uuid.NewString()
	defer func() {
		if err == nil {
			return
		}
		n, relErr := o.Matches.ReleaseMatchClaims(context.WithoutCancel(ctx), claimID)
		if relErr != nil {
			log.Error("failed to release claimed matches", zap.String("claim_id", claimID), zap.Error(relErr))
			return
		}
		log.Warn("released claimed matches after failed run", zap.Int64("matches", n), zap.Error(err))
	}()

	cursor := ""
	for {
		page, err := o.Matches.NextPendingMatches(ctx, cursor, o.Config.PageSize)
		if err != nil {
			return summary, err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ID
		summary.MatchesScanned += len(page)

		// AI matches are not simulated; they stay pending until cleared.
		// TODO: decide whether AI matches should be scored once a rule for the AI side exists.
		var humanIDs []string
		for _, m := range page {
			if m.IsAIMatch || m.ParticipantTwoID == nil {
				summary.AISkipped++
				continue
			}
			humanIDs = append(humanIDs, m.ID)
		}

		claimed, err := o.Matches.ClaimMatches(ctx, claimID, humanIDs)
		if err != nil {
			return summary, err
		}
		if len(claimed) == 0 {
			continue
		}

		resolved, failed, err := o.resolvePage(ctx, log, claimID, claimed)
		if err != nil {
			return summary, err
		}
		summary.Simulated += len(claimed)
		summary.Resolved += resolved
		summary.Failed += failed
	}

	log.Info("✅ resolve phase finished",
		zap.String("scanned", utils.Count(summary.MatchesScanned)),
		zap.String("resolved", utils.Count(summary.Resolved)),
		zap.Int("failed", summary.Failed),
		zap.Int("ai_skipped", summary.AISkipped),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

func (o *MatchOrchestrator) resolvePage(ctx context.Context, log *zap.Logger, claimID string, claimed []models.PendingMatch) (int, int, error) {
	ownerIDs := make([]string, 0, len(claimed)*2)
	for _, m := range claimed {
		ownerIDs = append(ownerIDs, m.ParticipantOneID, *m.ParticipantTwoID)
	}
	rosters, err := o.Rosters.Rosters(ctx, ownerIDs)
	if err != nil {
		return 0, 0, err
	}

	outcomes := make([]simOutcome, len(claimed))
	var g errgroup.Group
	g.SetLimit(o.Config.Concurrency)
	for i, m := range claimed {
		outcomes[i].match = m
		home, ok := rosters[m.ParticipantOneID]
		if !ok {
			log.Warn("roster missing, simulating empty side", zap.String("account_id", m.ParticipantOneID))
		}
		away, ok := rosters[*m.ParticipantTwoID]
		if !ok {
			log.Warn("roster missing, simulating empty side", zap.String("account_id", *m.ParticipantTwoID))
		}
		req := BuildSimulationRequest(home, away)

		g.Go(func() error {
			res, err := o.Simulator.Simulate(ctx, req)
			if err != nil {
				metrics.SimulationFailures.Inc()
				log.Warn("simulation failed", zap.String("match_id", m.ID), zap.Error(err))
				return nil
			}
			outcomes[i].result = res
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now()
	var history []models.GameHistory
	var resolved, released []string
	for _, out := range outcomes {
		m := out.match
		if out.result == nil {
			released = append(released, m.ID)
			continue
		}
		score := out.result.Score()
		ratingTwo := models.DefaultRating
		if m.RatingTwo != nil {
			ratingTwo = *m.RatingTwo
		}
		deltaOne, deltaTwo := RatingDelta(score[0], score[1], m.RatingOne, ratingTwo)

		history = append(history, models.GameHistory{
			ID:               uuid.NewString(),
			PendingMatchID:   m.ID,
			ParticipantOneID: m.ParticipantOneID,
			ParticipantTwoID: m.ParticipantTwoID,
			IsAIMatch:        false,
			Result:           datatypes.NewJSONType(score),
			RatingDelta:      datatypes.NewJSONType([2]int{deltaOne, deltaTwo}),
			Trace:            datatypes.JSON(out.result.Trace),
			Status:           models.HistoryStatusPending,
			CreatedAt:        now,
		})
		resolved = append(resolved, m.ID)
	}

	recorded, err := o.Matches.RecordResults(ctx, claimID, history, resolved, released)
	if err != nil {
		return 0, 0, err
	}
	if recorded < len(history) {
		log.Warn("matches were taken over by another run", zap.Int("lost", len(history)-recorded))
	}
	metrics.HistoryRecorded.Add(float64(recorded))
	return recorded, len(released), nil
}

// Reconcile folds every unreconciled history row into per-account deltas and
// applies them with one batched write per chunk of accounts. The writes and the
// reconciled marks commit together; an aborted run releases its rows untouched.
func (o *MatchOrchestrator) Reconcile(ctx context.Context) (summary ReconcileSummary, err error) {
	start := time.Now()
	log := o.Logger.With(zap.String("phase", PhaseReconcile))
	defer func() { o.observe(PhaseReconcile, start, err) }()

	claimID := uuid.NewString()
	defer func() {
		if err == nil {
			return
		}
		n, relErr := o.History.ReleaseHistoryClaims(context.WithoutCancel(ctx), claimID)
		if relErr != nil {
			log.Error("failed to release claimed history", zap.String("claim_id", claimID), zap.Error(relErr))
			return
		}
		log.Warn("released claimed history after failed run", zap.Int64("rows", n), zap.Error(err))
	}()

	deltas := make(map[string]*AccountDelta)
	add := func(id string, rating int) {
		d, ok := deltas[id]
		if !ok {
			d = &AccountDelta{AccountID: id}
			deltas[id] = d
		}
		d.Rating += rating
		d.Currency += int64(rating) * o.Config.CurrencyMultiplier
		d.GamesPlayed++
	}

	cursor := ""
	for {
		page, err := o.History.NextUnreconciledHistory(ctx, cursor, o.Config.PageSize)
		if err != nil {
			return summary, err
		}
		if len(page) == 0 {
			break
		}
		cursor = page[len(page)-1].ID

		ids := make([]string, len(page))
		for i, h := range page {
			ids[i] = h.ID
		}
		claimed, err := o.History.ClaimHistory(ctx, claimID, ids)
		if err != nil {
			return summary, err
		}

		for _, h := range claimed {
			delta := h.RatingDelta.Data()
			add(h.ParticipantOneID, delta[0])
			summary.RatingDeltaTotal += int64(delta[0])
			if !h.IsAIMatch && h.ParticipantTwoID != nil {
				add(*h.ParticipantTwoID, delta[1])
				summary.RatingDeltaTotal += int64(delta[1])
			}
		}
		summary.HistoryScanned += len(claimed)
	}

	if summary.HistoryScanned == 0 {
		log.Info("reconcile phase found nothing to apply")
		return summary, nil
	}

	accountIDs := make([]string, 0, len(deltas))
	for id := range deltas {
		accountIDs = append(accountIDs, id)
	}
	slices.Sort(accountIDs)

	var chunks [][]AccountDelta
	for chunk := range slices.Chunk(accountIDs, o.Config.ChunkSize) {
		batch := make([]AccountDelta, len(chunk))
		for i, id := range chunk {
			batch[i] = *deltas[id]
		}
		chunks = append(chunks, batch)
	}

	n, err := o.Accounts.ApplyReconciliation(ctx, claimID, summary.HistoryScanned, chunks)
	if err != nil {
		return summary, err
	}
	if n < len(accountIDs) {
		log.Warn("some accounts were missing and kept no delta", zap.Int("expected", len(accountIDs)), zap.Int("updated", n))
	}
	summary.AccountsUpdated = n
	metrics.AccountsReconciled.Add(float64(n))

	log.Info("✅ reconcile phase finished",
		zap.String("history", utils.Count(summary.HistoryScanned)),
		zap.String("accounts", utils.Count(summary.AccountsUpdated)),
		zap.Int("chunks", len(chunks)),
		zap.Int64("rating_delta_total", summary.RatingDeltaTotal),
		zap.Duration("took", time.Since(start)),
	)
	return summary, nil
}

// Clear irreversibly deletes all pending matches and game history.
// When an archiver is configured the history is exported first; a failed
// export aborts the clear.
func (o *MatchOrchestrator) Clear(ctx context.Context, reason string) (summary ClearSummary, err error) {
	start := time.Now()
	log := o.Logger.With(zap.String("phase", PhaseClear))
	defer func() { o.observe(PhaseClear, start, err) }()

	if o.Archiver != nil {
		key, rows, err := o.archiveHistory(ctx, reason)
		if err != nil {
			return summary, err
		}
		summary.ArchiveKey = key
		summary.ArchivedRows = rows
	}

	if summary.PendingCleared, err = o.Matches.ClearMatches(ctx); err != nil {
		return summary, err
	}
	if summary.HistoryCleared, err = o.History.ClearHistory(ctx); err != nil {
		return summary, err
	}

	log.Warn("⚠️ pending matches and game history cleared",
		zap.String("reason", reason),
		zap.Int64("pending_cleared", summary.PendingCleared),
		zap.Int64("history_cleared", summary.HistoryCleared),
		zap.String("archive_key", summary.ArchiveKey),
	)
	return summary, nil
}

// archiveHistory streams history page by page into the archiver, so only one
// page is held in memory. An empty history is not archived.
func (o *MatchOrchestrator) archiveHistory(ctx context.Context, reason string) (string, int, error) {
	first, err := o.History.NextHistoryPage(ctx, "", o.Config.PageSize)
	if err != nil {
		return "", 0, err
	}
	if len(first) == 0 {
		return "", 0, nil
	}

	key := ArchiveKey(time.Now(), reason)
	pr, pw := io.Pipe()
	export := NewHistoryExport(pw)
	written := make(chan error, 1)
	go func() {
		err := o.exportHistory(ctx, export, first)
		_ = pw.CloseWithError(err)
		written <- err
	}()

	archiveErr := o.Archiver.Archive(ctx, key, pr)
	// Unblocks the export if the upload stopped reading early.
	_ = pr.Close()
	if err := <-written; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return "", 0, fmt.Errorf("export history to %s: %w", key, err)
	}
	if archiveErr != nil {
		return "", 0, fmt.Errorf("archive history to %s: %w", key, archiveErr)
	}
	return key, export.Rows(), nil
}

func (o *MatchOrchestrator) exportHistory(ctx context.Context, export *HistoryExport, page []models.GameHistory) error {
	for len(page) > 0 {
		if err := export.Write(page); err != nil {
			return err
		}
		var err error
		page, err = o.History.NextHistoryPage(ctx, page[len(page)-1].ID, o.Config.PageSize)
		if err != nil {
			return err
		}
	}
	return nil
}

// firstErr prefers a persistence failure from the group over the read error
// its cancellation caused.
func firstErr(groupErr, err error) error {
	if groupErr != nil {
		return groupErr
	}
	return err
}

// IsConfigError reports whether err means the phase can never succeed without
// operator action, as opposed to a store or transport failure.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrSimulationConfig)
}
