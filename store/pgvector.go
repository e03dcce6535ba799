package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"videoIndex/core"
)

// PgIndex stores chunks in Postgres with the pgvector extension.
// Similarity is the `<=>` cosine distance operator; attribute filters
// become plain WHERE clauses.
type PgIndex struct {
	pool *pgxpool.Pool
	dim  int
}

func NewPgIndex(ctx context.Context, databaseURL string, dim int) (*PgIndex, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PgIndex{pool: pool, dim: dim}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PgIndex) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	table := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			source_id VARCHAR(64) NOT NULL,
			modality VARCHAR(16) NOT NULL,
			start_time FLOAT NOT NULL,
			end_time FLOAT NOT NULL,
			video_title TEXT NOT NULL,
			text TEXT NOT NULL,
			frame_path TEXT,
			embedding vector(%d),
			created_at TIMESTAMPTZ DEFAULT now()
		);`, s.dim)
	if _, err := s.pool.Exec(ctx, table); err != nil {
		return fmt.Errorf("create chunks table: %w", err)
	}
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_chunks_source_id ON chunks(source_id);",
		"CREATE INDEX IF NOT EXISTS idx_chunks_source_modality ON chunks(source_id, modality);",
		"CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);",
	}
	for _, stmt := range indexes {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (s *PgIndex) Upsert(ctx context.Context, chunks []core.Chunk) (int, error) {
	count := 0
	for _, c := range chunks {
		_, err := s.pool.Exec(ctx, `
			INSERT INTO chunks (id, source_id, modality, start_time, end_time, video_title, text, frame_path, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				video_title = EXCLUDED.video_title,
				text = EXCLUDED.text,
				frame_path = EXCLUDED.frame_path,
				embedding = EXCLUDED.embedding
		`, c.ID, c.SourceID, string(c.Modality), c.Start, c.End, c.VideoTitle, c.Text, c.FramePath, pgvector.NewVector(c.Vector))
		if err != nil {
			return count, fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
		count++
	}
	return count, nil
}

func (s *PgIndex) Search(ctx context.Context, vector []float32, filter Filter, k int) ([]core.Hit, error) {
	if k <= 0 {
		k = 5
	}
	vec := pgvector.NewVector(vector)

	where := []string{}
	args := []any{vec}
	if len(filter.SourceIDs) > 0 {
		args = append(args, filter.SourceIDs)
		where = append(where, fmt.Sprintf("source_id = ANY($%d)", len(args)))
	}
	if filter.Modality != "" {
		args = append(args, string(filter.Modality))
		where = append(where, fmt.Sprintf("modality = $%d", len(args)))
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, k)

	query := fmt.Sprintf(`
		SELECT source_id, modality, start_time, end_time, video_title, text, COALESCE(frame_path, ''),
		       embedding <=> $1 AS distance
		FROM chunks
		%s
		ORDER BY embedding <=> $1
		LIMIT $%d`, whereClause, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var h core.Hit
		var modality string
		if err := rows.Scan(&h.SourceID, &modality, &h.Start, &h.End, &h.VideoTitle, &h.Text, &h.FramePath, &h.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		h.Modality = core.Modality(modality)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *PgIndex) GetBySource(ctx context.Context, sourceID string) ([]core.Chunk, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, modality, start_time, end_time, video_title, text, COALESCE(frame_path, ''), embedding
		FROM chunks
		WHERE source_id = $1
		ORDER BY start_time`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("get by source: %w", err)
	}
	defer rows.Close()

	var chunks []core.Chunk
	for rows.Next() {
		var c core.Chunk
		var modality string
		var vec pgvector.Vector
		if err := rows.Scan(&c.ID, &c.SourceID, &modality, &c.Start, &c.End, &c.VideoTitle, &c.Text, &c.FramePath, &vec); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		c.Modality = core.Modality(modality)
		c.Vector = vec.Slice()
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *PgIndex) DeleteBySource(ctx context.Context, sourceID string) error {
	if _, err := s.pool.Exec(ctx, "DELETE FROM chunks WHERE source_id = $1", sourceID); err != nil {
		return fmt.Errorf("delete chunks for source %s: %w", sourceID, err)
	}
	return nil
}

func (s *PgIndex) Close(_ context.Context) error {
	s.pool.Close()
	return nil
}
