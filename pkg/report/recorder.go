// Package report stores run summaries in Postgres so operators can query
// refresh history without touching the article store.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"deck-updater/pkg/db"
	"deck-updater/pkg/scheduler"
)

// Recorder writes one row per page and one row per article outcome.
type Recorder struct {
	pg  db.DBProvider
	now func() time.Time
}

// NewRecorder creates a recorder on an already connected Postgres client.
func NewRecorder(pg db.DBProvider) (*Recorder, error) {
	if pg == nil {
		return nil, errors.New("postgres client is required")
	}
	return &Recorder{pg: pg, now: time.Now}, nil
}

// EnsureSchema creates the report tables when missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	if r.pg.DB() == nil {
		return fmt.Errorf("postgres DB not connected")
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS refresh_page (
  run_id TEXT NOT NULL,
  page_index INTEGER NOT NULL,
  skip BIGINT NOT NULL,
  updated INTEGER NOT NULL DEFAULT 0,
  unchanged INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  synthesis_failures INTEGER NOT NULL DEFAULT 0,
  persisted BOOLEAN NOT NULL DEFAULT false,
  error TEXT NOT NULL DEFAULT '',
  recorded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (run_id, page_index)
);
CREATE TABLE IF NOT EXISTS refresh_article (
  run_id TEXT NOT NULL,
  page_index INTEGER NOT NULL,
  article_id TEXT NOT NULL,
  title TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  added INTEGER NOT NULL DEFAULT 0,
  removed INTEGER NOT NULL DEFAULT 0,
  synthesis_failures INTEGER NOT NULL DEFAULT 0,
  error TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (run_id, article_id)
);`

	if _, err := r.pg.DB().ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create report tables: %w", err)
	}
	return nil
}

// RecordPage stores a page summary and its outcomes in one transaction.
// Re-recording the same page replaces the earlier rows.
func (r *Recorder) RecordPage(ctx context.Context, runID string, page scheduler.PageResult) error {
	if r.pg.DB() == nil {
		return fmt.Errorf("postgres DB not connected")
	}

	tx, err := r.pg.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const upsertPage = `
INSERT INTO refresh_page (run_id, page_index, skip, updated, unchanged, failed, synthesis_failures, persisted, error, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id, page_index) DO UPDATE SET
  updated = EXCLUDED.updated,
  unchanged = EXCLUDED.unchanged,
  failed = EXCLUDED.failed,
  synthesis_failures = EXCLUDED.synthesis_failures,
  persisted = EXCLUDED.persisted,
  error = EXCLUDED.error,
  recorded_at = EXCLUDED.recorded_at`

	if _, err := tx.ExecContext(ctx, upsertPage,
		runID, page.Index, page.Skip,
		page.Count(scheduler.StatusUpdated), page.Count(scheduler.StatusUnchanged), page.Count(scheduler.StatusFailed),
		page.SynthesisFailures(), page.Persisted, page.Error, r.now().UTC(),
	); err != nil {
		return fmt.Errorf("insert page %d of run %s: %w", page.Index, runID, err)
	}

	if err := r.insertOutcomes(ctx, tx, runID, page); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *Recorder) insertOutcomes(ctx context.Context, tx *sql.Tx, runID string, page scheduler.PageResult) error {
	if len(page.Outcomes) == 0 {
		return nil
	}

	const upsertArticle = `
INSERT INTO refresh_article (run_id, page_index, article_id, title, status, added, removed, synthesis_failures, error)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (run_id, article_id) DO UPDATE SET
  status = EXCLUDED.status,
  added = EXCLUDED.added,
  removed = EXCLUDED.removed,
  synthesis_failures = EXCLUDED.synthesis_failures,
  error = EXCLUDED.error`

	stmt, err := tx.PrepareContext(ctx, upsertArticle)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range page.Outcomes {
		if _, err := stmt.ExecContext(ctx, runID, page.Index, o.ID.Hex(), o.Title, string(o.Status),
			o.Added, o.Removed, o.SynthesisFailures, o.Error); err != nil {
			return fmt.Errorf("insert outcome for %q: %w", o.Title, err)
		}
	}
	return nil
}

// PageSummary is a stored page row.
type PageSummary struct {
	RunID             string
	PageIndex         int
	Skip              int64
	Updated           int
	Unchanged         int
	Failed            int
	SynthesisFailures int
	Persisted         bool
	Error             string
	RecordedAt        time.Time
}

// Pages returns the stored page rows of a run in page order.
func (r *Recorder) Pages(ctx context.Context, runID string) ([]PageSummary, error) {
	if r.pg.DB() == nil {
		return nil, fmt.Errorf("postgres DB not connected")
	}

	rows, err := r.pg.DB().QueryContext(ctx, `
SELECT run_id, page_index, skip, updated, unchanged, failed, synthesis_failures, persisted, error, recorded_at
FROM refresh_page WHERE run_id = $1 ORDER BY page_index`, runID)
	if err != nil {
		return nil, fmt.Errorf("query pages of run %s: %w", runID, err)
	}
	defer rows.Close()

	var out []PageSummary
	for rows.Next() {
		var p PageSummary
		if err := rows.Scan(&p.RunID, &p.PageIndex, &p.Skip, &p.Updated, &p.Unchanged, &p.Failed,
			&p.SynthesisFailures, &p.Persisted, &p.Error, &p.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}
