package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLiteAdapter is the pure-Go, single-binary-deployment backend (spec
// §6.3: "a single-node/dev mode ... must be possible without external
// services"). Grounded on ODSapper-CLIAIRMONITOR's
// internal/memory.SQLiteOperationalDB: modernc.org/sqlite, WAL mode, a
// single pooled connection, and an embedded schema executed on open.
type SQLiteAdapter struct {
	db *sql.DB
}

func NewSQLiteAdapter(path string) (*SQLiteAdapter, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: enable wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}

	return &SQLiteAdapter{db: db}, nil
}

func (s *SQLiteAdapter) Close() error { return s.db.Close() }

func (s *SQLiteAdapter) Store(ctx context.Context, rec *domain.Record) error {
	content, err := encodeContent(rec.Content)
	if err != nil {
		return fmt.Errorf("storage: encode content: %w", err)
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode metadata: %w", err)
	}
	contributors, err := encodeContributors(rec.Contributors)
	if err != nil {
		return fmt.Errorf("storage: encode contributors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (
			id, kind, agent_id, content, embedding, degraded, metadata,
			created_at, updated_at, access_count, last_accessed_at, deleted,
			version, importance, confidence, success_rate, usage_count,
			contributors, source_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, string(rec.Kind), rec.AgentID, content, encodeEmbedding(rec.Embedding),
		boolToInt(rec.Degraded), metadata, rec.CreatedAt, rec.UpdatedAt, rec.AccessCount,
		rec.LastAccessedAt, boolToInt(rec.Deleted), rec.Version, rec.Importance,
		rec.Confidence, rec.SuccessRate, rec.UsageCount, contributors, rec.SourceCount)
	if err != nil {
		return fmt.Errorf("storage: insert record: %w", err)
	}
	return nil
}

func (s *SQLiteAdapter) Get(ctx context.Context, id string) (*domain.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, agent_id, content, embedding, degraded, metadata,
		       created_at, updated_at, access_count, last_accessed_at, deleted,
		       version, importance, confidence, success_rate, usage_count,
		       contributors, source_count
		FROM memory_records WHERE id = ? AND deleted = 0`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.New("storage.Get", "NotFound", fmt.Errorf("%w: %s", coreerr.ErrNotFound, id))
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan record: %w", err)
	}
	return rec, nil
}

func (s *SQLiteAdapter) Update(ctx context.Context, rec *domain.Record, expectedVersion int64) error {
	content, err := encodeContent(rec.Content)
	if err != nil {
		return fmt.Errorf("storage: encode content: %w", err)
	}
	metadata, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return fmt.Errorf("storage: encode metadata: %w", err)
	}
	contributors, err := encodeContributors(rec.Contributors)
	if err != nil {
		return fmt.Errorf("storage: encode contributors: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_records SET
			content = ?, embedding = ?, degraded = ?, metadata = ?, updated_at = ?,
			access_count = ?, last_accessed_at = ?, version = ?, importance = ?,
			confidence = ?, success_rate = ?, usage_count = ?, contributors = ?,
			source_count = ?
		WHERE id = ? AND version = ? AND deleted = 0`,
		content, encodeEmbedding(rec.Embedding), boolToInt(rec.Degraded), metadata,
		rec.UpdatedAt, rec.AccessCount, rec.LastAccessedAt, expectedVersion+1,
		rec.Importance, rec.Confidence, rec.SuccessRate, rec.UsageCount, contributors,
		rec.SourceCount, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("storage: update record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: rows affected: %w", err)
	}
	if n == 0 {
		return coreerr.New("storage.Update", "Conflict", fmt.Errorf("%w: %s at version %d", coreerr.ErrConflict, rec.ID, expectedVersion))
	}
	rec.Version = expectedVersion + 1
	return nil
}

func (s *SQLiteAdapter) SoftDelete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memory_records SET deleted = 1, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("storage: soft delete: %w", err)
	}
	return nil
}

func (s *SQLiteAdapter) Candidates(ctx context.Context, filter CandidateFilter) ([]*domain.Record, error) {
	query := `
		SELECT id, kind, agent_id, content, embedding, degraded, metadata,
		       created_at, updated_at, access_count, last_accessed_at, deleted,
		       version, importance, confidence, success_rate, usage_count,
		       contributors, source_count
		FROM memory_records WHERE deleted = 0`
	var args []interface{}

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = "?"
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Domain != "" {
		query += " AND json_extract(metadata, '$.domain') = ?"
		args = append(args, filter.Domain)
	}
	if !filter.IncludeDegraded {
		query += " AND degraded = 0"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: query candidates: %w", err)
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("storage: scan candidate: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteAdapter) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{TotalByKind: map[domain.Kind]int{}, LastActivity: map[string]time.Time{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM memory_records WHERE deleted = 0 GROUP BY kind`)
	if err != nil {
		return stats, fmt.Errorf("storage: stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return stats, fmt.Errorf("storage: scan stats: %w", err)
		}
		stats.TotalByKind[domain.Kind(kind)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}

	activityRows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, MAX(updated_at) FROM memory_records WHERE deleted = 0 GROUP BY agent_id`)
	if err != nil {
		return stats, fmt.Errorf("storage: last activity: %w", err)
	}
	defer activityRows.Close()
	for activityRows.Next() {
		var agentID string
		var last time.Time
		if err := activityRows.Scan(&agentID, &last); err != nil {
			return stats, fmt.Errorf("storage: scan last activity: %w", err)
		}
		stats.LastActivity[agentID] = last
	}
	return stats, activityRows.Err()
}

// rowScanner abstracts over *sql.Row.Scan and *sql.Rows.Scan so one
// function can decode both a single Get and a Candidates result set.
type rowScanner func(dest ...interface{}) error

func scanRecord(scan rowScanner) (*domain.Record, error) {
	var rec domain.Record
	var kind, content, metadata, contributors string
	var embedding []byte
	var degraded, deleted int
	var lastAccessedAt sql.NullTime

	err := scan(&rec.ID, &kind, &rec.AgentID, &content, &embedding, &degraded, &metadata,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.AccessCount, &lastAccessedAt, &deleted,
		&rec.Version, &rec.Importance, &rec.Confidence, &rec.SuccessRate, &rec.UsageCount,
		&contributors, &rec.SourceCount)
	if err != nil {
		return nil, err
	}

	rec.Kind = domain.Kind(kind)
	rec.Degraded = degraded != 0
	rec.Deleted = deleted != 0
	rec.Embedding = decodeEmbedding(embedding)
	if lastAccessedAt.Valid {
		t := lastAccessedAt.Time
		rec.LastAccessedAt = &t
	}

	rec.Content, err = decodeContent(content)
	if err != nil {
		return nil, err
	}
	rec.Metadata, err = decodeMetadata(metadata)
	if err != nil {
		return nil, err
	}
	rec.Contributors, err = decodeContributors(contributors)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
