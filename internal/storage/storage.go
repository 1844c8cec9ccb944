// Package storage persists finalized crawl results. It is a collaborator of
// the crawl engine, invoked only after a PageResult is finalized; the engine
// itself never touches a database.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/adriejeon/featureDetective/internal/config"
	"github.com/adriejeon/featureDetective/pkg/types"
)

// ResultStore persists page results for one crawl run.
type ResultStore interface {
	SaveResult(ctx context.Context, runID string, page types.PageResult) error
}

// SQLWriter is a relational ResultStore backed by database/sql.
type SQLWriter struct {
	db    *sql.DB
	table string
}

const pagesTable = "crawl_pages"

// NewSQLWriter opens the configured database and, when enabled, creates the
// results table.
func NewSQLWriter(cfg config.SQLConfig) (*SQLWriter, error) {
	if cfg.Driver == "" || cfg.DSN == "" {
		return nil, errors.New("sql config missing driver or dsn")
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sql connection: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime.Duration > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime.Duration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sql connection: %w", err)
	}

	w := &SQLWriter{db: db, table: pagesTable}
	if cfg.AutoMigrate {
		if err := w.migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return w, nil
}

func (w *SQLWriter) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGSERIAL PRIMARY KEY,
		run_id TEXT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL DEFAULT '',
		content_length INTEGER NOT NULL DEFAULT 0,
		extraction_method TEXT NOT NULL,
		depth INTEGER NOT NULL,
		source TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		fetched_at TIMESTAMPTZ NOT NULL,
		UNIQUE (run_id, url)
	)`, pq.QuoteIdentifier(w.table))
	if _, err := w.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("migrate %s: %w", w.table, err)
	}
	return nil
}

// SaveResult upserts one finalized PageResult. The (run_id, url) uniqueness
// constraint makes emission at-most-once per URL per run.
func (w *SQLWriter) SaveResult(ctx context.Context, runID string, page types.PageResult) error {
	stmt := fmt.Sprintf(`INSERT INTO %s
		(run_id, url, title, content, content_length, extraction_method, depth, source, status, error, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, url) DO NOTHING`, pq.QuoteIdentifier(w.table))
	_, err := w.db.ExecContext(ctx, stmt,
		runID,
		page.URL,
		page.Title,
		page.Content,
		page.ContentLength,
		string(page.ExtractionMethod),
		page.Depth,
		string(page.Source),
		string(page.Status),
		page.Metadata.Error,
		page.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("save page %s: %w", page.URL, err)
	}
	return nil
}

// SaveAll persists a finished result sequence.
func (w *SQLWriter) SaveAll(ctx context.Context, runID string, pages []types.PageResult) error {
	for _, page := range pages {
		if err := w.SaveResult(ctx, runID, page); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database connection pool.
func (w *SQLWriter) Close() error {
	return w.db.Close()
}
