// Package docstore persists fused workflow output. Writes are idempotent
// upserts keyed by target identifier; re-running a workflow never duplicates.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/bioetl/targetforge/internal/model"
)

// Store is the SQLite-backed document sink
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the document store at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	// WAL mode for concurrent readers during long workflow runs
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS targets (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	taxon_id   INTEGER NOT NULL DEFAULT 0,
	sequences  TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS annotations (
	target_id TEXT NOT NULL,
	category  TEXT NOT NULL,
	provider  TEXT NOT NULL,
	taxon_id  INTEGER NOT NULL DEFAULT 0,
	value     TEXT NOT NULL,
	evidence  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_annotations_group ON annotations(target_id, category, provider);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate document store: %w", err)
	}
	return nil
}

// UpsertTargets writes target records, superseding prior versions by ID.
// Targets are never deleted.
func (s *Store) UpsertTargets(ctx context.Context, targets []model.TargetRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert targets: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO targets (id, source, taxon_id, sequences, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	source = excluded.source,
	taxon_id = excluded.taxon_id,
	sequences = excluded.sequences,
	updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert targets: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range targets {
		seqs, err := json.Marshal(t.Sequences)
		if err != nil {
			return fmt.Errorf("marshal sequences for %s: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, t.ID, t.Source, t.TaxonID, string(seqs), now); err != nil {
			return fmt.Errorf("upsert target %s: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// UpsertAnnotations replaces each (target, category, provider) group with the
// fused records for that group. Replacement, not append, keeps re-runs on
// unchanged provider data from accumulating duplicates.
func (s *Store) UpsertAnnotations(ctx context.Context, records []model.AnnotationRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert annotations: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	groups := make(map[model.GroupKey]bool)
	for _, rec := range records {
		key := rec.Key()
		if groups[key] {
			continue
		}
		groups[key] = true
		_, err := tx.ExecContext(ctx,
			`DELETE FROM annotations WHERE target_id = ? AND category = ? AND provider = ?`,
			key.TargetID, string(key.Category), key.Provider)
		if err != nil {
			return fmt.Errorf("clear annotation group %v: %w", key, err)
		}
	}

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO annotations (target_id, category, provider, taxon_id, value, evidence)
VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert annotations: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		value, err := json.Marshal(rec.Value)
		if err != nil {
			return fmt.Errorf("marshal annotation value for %s: %w", rec.TargetID, err)
		}
		_, err = stmt.ExecContext(ctx, rec.TargetID, string(rec.Category), rec.Provider, rec.TaxonID, string(value), rec.Evidence)
		if err != nil {
			return fmt.Errorf("insert annotation for %s: %w", rec.TargetID, err)
		}
	}

	return tx.Commit()
}

// CountTargets returns the number of stored targets
func (s *Store) CountTargets(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM targets`).Scan(&n)
	return n, err
}

// CountAnnotations returns the number of stored annotation records
func (s *Store) CountAnnotations(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotations`).Scan(&n)
	return n, err
}

// Annotations returns the stored records for one target in group order
func (s *Store) Annotations(ctx context.Context, targetID string) ([]model.AnnotationRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT target_id, category, provider, taxon_id, value, evidence
FROM annotations WHERE target_id = ?
ORDER BY category, provider`, targetID)
	if err != nil {
		return nil, fmt.Errorf("query annotations: %w", err)
	}
	defer rows.Close()

	var out []model.AnnotationRecord
	for rows.Next() {
		var rec model.AnnotationRecord
		var category, value string
		if err := rows.Scan(&rec.TargetID, &category, &rec.Provider, &rec.TaxonID, &value, &rec.Evidence); err != nil {
			return nil, fmt.Errorf("scan annotation: %w", err)
		}
		rec.Category = model.Category(category)
		if err := json.Unmarshal([]byte(value), &rec.Value); err != nil {
			return nil, fmt.Errorf("unmarshal annotation value: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
