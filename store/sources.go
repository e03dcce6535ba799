package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"videoIndex/core"
)

var (
	// ErrSourceNotFound is returned when a source id is unknown.
	ErrSourceNotFound = errors.New("source not found")
	// ErrBadTransition is returned when a status update would leave the
	// documented state-machine edges.
	ErrBadTransition = errors.New("illegal status transition")
)

// SourceRepository persists sources and their state transitions. Status
// is mutated only through UpdateStatus, which enforces the machine's
// edges, so a row can never hold an undocumented state.
type SourceRepository interface {
	Create(ctx context.Context, source *core.Source) error
	Get(ctx context.Context, id string) (*core.Source, error)
	List(ctx context.Context) ([]core.Source, error)
	// UpdateStatus moves a source along a legal edge and returns the
	// refreshed row. ErrBadTransition when the edge does not exist.
	UpdateStatus(ctx context.Context, id string, to core.SourceStatus) (*core.Source, error)
	SetDuration(ctx context.Context, id string, duration float64) error
	Delete(ctx context.Context, id string) error
}

// ---------------- Memory implementation ----------------

type MemorySourceRepository struct {
	mu      sync.RWMutex
	sources map[string]*core.Source
}

func NewMemorySourceRepository() *MemorySourceRepository {
	return &MemorySourceRepository{sources: make(map[string]*core.Source)}
}

func (r *MemorySourceRepository) Create(_ context.Context, source *core.Source) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	source.CreatedAt = now
	source.UpdatedAt = now
	cp := *source
	r.sources[source.ID] = &cp
	return nil
}

func (r *MemorySourceRepository) Get(_ context.Context, id string) (*core.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	cp := *src
	return &cp, nil
}

func (r *MemorySourceRepository) List(_ context.Context) ([]core.Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemorySourceRepository) UpdateStatus(_ context.Context, id string, to core.SourceStatus) (*core.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return nil, ErrSourceNotFound
	}
	if !src.Status.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, src.Status, to)
	}
	src.Status = to
	src.UpdatedAt = time.Now().UTC()
	cp := *src
	return &cp, nil
}

func (r *MemorySourceRepository) SetDuration(_ context.Context, id string, duration float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.sources[id]
	if !ok {
		return ErrSourceNotFound
	}
	src.Duration = &duration
	src.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemorySourceRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[id]; !ok {
		return ErrSourceNotFound
	}
	delete(r.sources, id)
	return nil
}

// ---------------- Postgres implementation ----------------

// PostgresSourceRepository keeps the source-keyed state table in
// Postgres, replacing the in-memory task registries the original
// ingest modules relied on.
type PostgresSourceRepository struct {
	pool *pgxpool.Pool
	sb   sq.StatementBuilderType
}

func NewPostgresSourceRepository(ctx context.Context, pool *pgxpool.Pool) (*PostgresSourceRepository, error) {
	r := &PostgresSourceRepository{
		pool: pool,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PostgresSourceRepository) ensureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS sources (
			id VARCHAR(64) PRIMARY KEY,
			title TEXT NOT NULL,
			file_path TEXT NOT NULL,
			duration FLOAT,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`)
	if err != nil {
		return fmt.Errorf("create sources table: %w", err)
	}
	return nil
}

func (r *PostgresSourceRepository) Create(ctx context.Context, source *core.Source) error {
	now := time.Now().UTC()
	source.CreatedAt = now
	source.UpdatedAt = now
	query, args, err := r.sb.Insert("sources").
		Columns("id", "title", "file_path", "duration", "status", "created_at", "updated_at").
		Values(source.ID, source.Title, source.FilePath, source.Duration, string(source.Status), source.CreatedAt, source.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

func (r *PostgresSourceRepository) Get(ctx context.Context, id string) (*core.Source, error) {
	query, args, err := r.sb.Select("id", "title", "file_path", "duration", "status", "created_at", "updated_at").
		From("sources").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	src, err := r.scanSource(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (r *PostgresSourceRepository) List(ctx context.Context) ([]core.Source, error) {
	query, args, err := r.sb.Select("id", "title", "file_path", "duration", "status", "created_at", "updated_at").
		From("sources").
		OrderBy("created_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []core.Source
	for rows.Next() {
		src, err := r.scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *src)
	}
	return out, rows.Err()
}

// UpdateStatus runs the transition check inside a row-locked
// transaction so two concurrent triggers cannot both move the same
// source.
func (r *PostgresSourceRepository) UpdateStatus(ctx context.Context, id string, to core.SourceStatus) (*core.Source, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, "SELECT status FROM sources WHERE id = $1 FOR UPDATE", id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock source: %w", err)
	}
	from := core.SourceStatus(current)
	if !from.CanTransition(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, to)
	}

	query, args, err := r.sb.Update("sources").
		Set("status", string(to)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r.Get(ctx, id)
}

func (r *PostgresSourceRepository) SetDuration(ctx context.Context, id string, duration float64) error {
	query, args, err := r.sb.Update("sources").
		Set("duration", duration).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set duration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSourceNotFound
	}
	return nil
}

func (r *PostgresSourceRepository) Delete(ctx context.Context, id string) error {
	query, args, err := r.sb.Delete("sources").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSourceNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PostgresSourceRepository) scanSource(row rowScanner) (*core.Source, error) {
	var src core.Source
	var status string
	err := row.Scan(&src.ID, &src.Title, &src.FilePath, &src.Duration, &status, &src.CreatedAt, &src.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSourceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}
	src.Status = core.SourceStatus(status)
	return &src, nil
}
