package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cortexd/cortexd/internal/coreerr"
	"github.com/cortexd/cortexd/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresConfig mirrors tarsy's database.Config shape (spec §6.3's
// multi-node/production path).
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// PostgresAdapter is the production backend, grounded on
// codeready-toolchain-tarsy/pkg/database.Client: database/sql opened with
// the pgx/v5/stdlib driver, golang-migrate applying embedded migrations on
// startup. Unlike the teacher it speaks raw SQL instead of through
// entgo.io/ent, since ent's code generator cannot run in this environment
// (see DESIGN.md).
type PostgresAdapter struct {
	db *sql.DB
}

func NewPostgresAdapter(ctx context.Context, cfg PostgresConfig) (*PostgresAdapter, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping postgres: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}

	return &PostgresAdapter{db: db}, nil
}

func runMigrations(db *sql.DB, dbName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Only close the source; closing m would also close db via the shared
	// postgres.WithInstance handle, which PostgresAdapter still owns.
	return sourceDriver.Close()
}

func (p *PostgresAdapter) Close() error { return p.db.Close() }

func (p *PostgresAdapter) Store(ctx context.Context, rec *domain.Record) error {
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

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO memory_records (
			id, kind, agent_id, content, embedding, degraded, metadata,
			created_at, updated_at, access_count, last_accessed_at, deleted,
			version, importance, confidence, success_rate, usage_count,
			contributors, source_count
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		rec.ID, string(rec.Kind), rec.AgentID, content, encodeEmbedding(rec.Embedding),
		rec.Degraded, metadata, rec.CreatedAt, rec.UpdatedAt, rec.AccessCount,
		rec.LastAccessedAt, rec.Deleted, rec.Version, rec.Importance, rec.Confidence,
		rec.SuccessRate, rec.UsageCount, contributors, rec.SourceCount)
	if err != nil {
		return fmt.Errorf("storage: insert record: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Get(ctx context.Context, id string) (*domain.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, kind, agent_id, content, embedding, degraded, metadata,
		       created_at, updated_at, access_count, last_accessed_at, deleted,
		       version, importance, confidence, success_rate, usage_count,
		       contributors, source_count
		FROM memory_records WHERE id = $1 AND deleted = FALSE`, id)
	rec, err := scanRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, coreerr.New("storage.Get", "NotFound", fmt.Errorf("%w: %s", coreerr.ErrNotFound, id))
	}
	if err != nil {
		return nil, fmt.Errorf("storage: scan record: %w", err)
	}
	return rec, nil
}

func (p *PostgresAdapter) Update(ctx context.Context, rec *domain.Record, expectedVersion int64) error {
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

	res, err := p.db.ExecContext(ctx, `
		UPDATE memory_records SET
			content = $1, embedding = $2, degraded = $3, metadata = $4, updated_at = $5,
			access_count = $6, last_accessed_at = $7, version = $8, importance = $9,
			confidence = $10, success_rate = $11, usage_count = $12, contributors = $13,
			source_count = $14
		WHERE id = $15 AND version = $16 AND deleted = FALSE`,
		content, encodeEmbedding(rec.Embedding), rec.Degraded, metadata, rec.UpdatedAt,
		rec.AccessCount, rec.LastAccessedAt, expectedVersion+1, rec.Importance,
		rec.Confidence, rec.SuccessRate, rec.UsageCount, contributors, rec.SourceCount,
		rec.ID, expectedVersion)
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

func (p *PostgresAdapter) SoftDelete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE memory_records SET deleted = TRUE, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("storage: soft delete: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) Candidates(ctx context.Context, filter CandidateFilter) ([]*domain.Record, error) {
	query := `
		SELECT id, kind, agent_id, content, embedding, degraded, metadata,
		       created_at, updated_at, access_count, last_accessed_at, deleted,
		       version, importance, confidence, success_rate, usage_count,
		       contributors, source_count
		FROM memory_records WHERE deleted = FALSE`
	var args []interface{}
	n := 0
	next := func() string { n++; return fmt.Sprintf("$%d", n) }

	if len(filter.Kinds) > 0 {
		placeholders := make([]string, len(filter.Kinds))
		for i, k := range filter.Kinds {
			placeholders[i] = next()
			args = append(args, string(k))
		}
		query += " AND kind IN (" + strings.Join(placeholders, ",") + ")"
	}
	if filter.AgentID != "" {
		query += " AND agent_id = " + next()
		args = append(args, filter.AgentID)
	}
	if filter.Domain != "" {
		query += " AND metadata->>'domain' = " + next()
		args = append(args, filter.Domain)
	}
	if !filter.IncludeDegraded {
		query += " AND degraded = FALSE"
	}
	if filter.Limit > 0 {
		query += " LIMIT " + next()
		args = append(args, filter.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *PostgresAdapter) Stats(ctx context.Context) (domain.Stats, error) {
	stats := domain.Stats{TotalByKind: map[domain.Kind]int{}, LastActivity: map[string]time.Time{}}

	rows, err := p.db.QueryContext(ctx, `
		SELECT kind, COUNT(*) FROM memory_records WHERE deleted = FALSE GROUP BY kind`)
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

	activityRows, err := p.db.QueryContext(ctx, `
		SELECT agent_id, MAX(updated_at) FROM memory_records WHERE deleted = FALSE GROUP BY agent_id`)
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
