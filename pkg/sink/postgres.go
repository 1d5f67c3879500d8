package sink

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"fiberseg/internal/models"
)

// Postgres stores fiber objects in a fiber_objects table. The numeric
// properties of each object are kept both as a jsonb document and as a
// pgvector column for similarity queries.
type Postgres struct {
	pool    *pgxpool.Pool
	runName string
}

// NearObject is a stored fiber object returned by NearestObjects
type NearObject struct {
	RunName  string
	FOV      string
	Label    int
	Distance float64
}

// NewPostgres connects to dsn and tags every written row with runName
func NewPostgres(ctx context.Context, dsn, runName string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool, runName: runName}, nil
}

// Close releases the connection pool
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// InitSchema creates the vector extension and the fiber_objects table if
// they do not exist yet
func (p *Postgres) InitSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	_, err := p.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS fiber_objects (
            id BIGSERIAL PRIMARY KEY,
            run_name VARCHAR(255) NOT NULL,
            fov VARCHAR(255) NOT NULL,
            label INTEGER NOT NULL,
            properties JSONB NOT NULL,
            features vector NOT NULL,
            created_at TIMESTAMPTZ NOT NULL,
            UNIQUE(run_name, fov, label)
        );

        CREATE INDEX IF NOT EXISTS idx_fiber_objects_run ON fiber_objects(run_name, fov);
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}
	return nil
}

// WriteTable replaces the rows of this run with the rows of table in one
// transaction
func (p *Postgres) WriteTable(ctx context.Context, table *models.FiberObjectTable) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM fiber_objects WHERE run_name = $1", p.runName); err != nil {
		return fmt.Errorf("failed to clear previous rows: %w", err)
	}

	now := time.Now()
	batch := &pgx.Batch{}
	for _, row := range table.Rows {
		batch.Queue(`INSERT INTO fiber_objects
            (run_name, fov, label, properties, features, created_at)
            VALUES ($1, $2, $3, $4, $5, $6)`,
			p.runName, row.FOV, row.Label, properties(table.Columns, row),
			pgvector.NewVector(row.NumericVector()), now)
	}

	br := tx.SendBatch(ctx, batch)
	for i := range table.Rows {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to store fov %s label %d: %w", table.Rows[i].FOV, table.Rows[i].Label, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to store fiber objects: %w", err)
	}

	return tx.Commit(ctx)
}

// NearestObjects returns the stored objects of this run whose feature
// vectors are closest to features by Euclidean distance
func (p *Postgres) NearestObjects(ctx context.Context, features []float32, limit int) ([]NearObject, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT run_name, fov, label, features <-> $1 AS distance
        FROM fiber_objects
        WHERE run_name = $2
        ORDER BY features <-> $1
        LIMIT $3`,
		pgvector.NewVector(features), p.runName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search fiber objects: %w", err)
	}
	defer rows.Close()

	var results []NearObject
	for rows.Next() {
		var o NearObject
		if err := rows.Scan(&o.RunName, &o.FOV, &o.Label, &o.Distance); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, o)
	}
	return results, rows.Err()
}

// properties maps column names to values; non-finite values become null
func properties(columns []string, row models.FiberObject) map[string]any {
	doc := make(map[string]any, len(columns))
	for i, name := range columns {
		v := row.Values[i]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			doc[name] = nil
			continue
		}
		doc[name] = v
	}
	return doc
}
