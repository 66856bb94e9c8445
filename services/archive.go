package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"fantasy-match-engine/models"

	"github.com/gosimple/slug"
)

// HistoryArchiver stores a snapshot of game history before it is cleared.
// Archive must consume body until EOF or return an error.
type HistoryArchiver interface {
	Archive(ctx context.Context, key string, body io.Reader) error
}

// ArchiveKey names a history snapshot, e.g.
// game-history/20261019T040000Z-season-reset.jsonl
func ArchiveKey(at time.Time, reason string) string {
	name := slug.Make(reason)
	if name == "" {
		name = "clear"
	}
	return fmt.Sprintf("game-history/%s-%s.jsonl", at.UTC().Format("20060102T150405Z"), name)
}

// HistoryExport writes history rows to w as JSON lines.
type HistoryExport struct {
	enc  *json.Encoder
	rows int
}

func NewHistoryExport(w io.Writer) *HistoryExport {
	return &HistoryExport{enc: json.NewEncoder(w)}
}

func (e *HistoryExport) Write(rows []models.GameHistory) error {
	for _, h := range rows {
		if err := e.enc.Encode(h); err != nil {
			return fmt.Errorf("encode history %s: %w", h.ID, err)
		}
		e.rows++
	}
	return nil
}

func (e *HistoryExport) Rows() int { return e.rows }
