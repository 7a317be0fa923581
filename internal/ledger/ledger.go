// Package ledger records the outcome of every stored file in DuckDB.
package ledger

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/filestore/backend/internal/models"
	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb"
)

// Record is one row of the uploads table.
type Record struct {
	ID          string    `json:"id"`
	RecordedAt  time.Time `json:"recordedAt"`
	Route       string    `json:"route"`
	Field       string    `json:"field"`
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	Storage     string    `json:"storage"`
	Location    string    `json:"location"`
	Status      bool      `json:"status"`
	Error       string    `json:"error,omitempty"`
	Background  bool      `json:"background"`
}

// FieldSummary aggregates the records of one route field.
type FieldSummary struct {
	Route       string `json:"route"`
	Field       string `json:"field"`
	Stored      int64  `json:"stored"`
	Failed      int64  `json:"failed"`
	StoredBytes int64  `json:"storedBytes"`
}

// Ledger is a DuckDB-backed upload log. It implements the dispatcher's
// Observer interface.
type Ledger struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens or creates the ledger database at path. An empty path keeps
// the ledger in memory.
func Open(path string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='256MB'",
			"PRAGMA threads=2",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS uploads (
			id           VARCHAR PRIMARY KEY,
			recorded_at  TIMESTAMP NOT NULL,
			route        VARCHAR NOT NULL,
			field        VARCHAR NOT NULL,
			filename     VARCHAR NOT NULL,
			content_type VARCHAR NOT NULL,
			size         BIGINT NOT NULL,
			storage      VARCHAR NOT NULL,
			location     VARCHAR NOT NULL,
			status       BOOLEAN NOT NULL,
			error        VARCHAR NOT NULL,
			background   BOOLEAN NOT NULL
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	logger.Info("upload ledger opened", "path", displayPath(path))
	return &Ledger{db: db, path: path, logger: logger}, nil
}

func displayPath(path string) string {
	if path == "" {
		return ":memory:"
	}
	return path
}

// Record inserts one file outcome.
func (l *Ledger) Record(ctx context.Context, route string, res *models.FileResult) error {
	background, _ := res.Metadata["background"].(bool)
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO uploads (id, recorded_at, route, field, filename, content_type, size, storage, location, status, error, background)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), time.Now().UTC(), route, res.FieldName, res.Filename, res.ContentType,
		res.Size, res.Storage, res.Location(), res.Status, res.Error, background,
	)
	if err != nil {
		return fmt.Errorf("failed to record upload: %w", err)
	}
	return nil
}

// Observe records res and logs failures instead of returning them.
func (l *Ledger) Observe(ctx context.Context, route string, res *models.FileResult) {
	// Background tasks report after the request context is gone.
	ctx = context.WithoutCancel(ctx)
	if err := l.Record(ctx, route, res); err != nil {
		l.logger.Error("ledger write failed", "route", route, "file", res.Filename, "error", err)
	}
}

// Recent returns the latest records, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, recorded_at, route, field, filename, content_type, size, storage, location, status, error, background
		FROM uploads
		ORDER BY recorded_at DESC, id
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.RecordedAt, &r.Route, &r.Field, &r.Filename, &r.ContentType,
			&r.Size, &r.Storage, &r.Location, &r.Status, &r.Error, &r.Background); err != nil {
			return nil, fmt.Errorf("failed to scan upload: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Summary returns per-field counts of stored and failed files.
func (l *Ledger) Summary(ctx context.Context) ([]FieldSummary, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT
			route,
			field,
			COUNT(*) FILTER (WHERE status) AS stored,
			COUNT(*) FILTER (WHERE NOT status) AS failed,
			CAST(COALESCE(SUM(size) FILTER (WHERE status), 0) AS BIGINT) AS stored_bytes
		FROM uploads
		GROUP BY route, field
		ORDER BY route, field`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize uploads: %w", err)
	}
	defer rows.Close()

	var summaries []FieldSummary
	for rows.Next() {
		var s FieldSummary
		if err := rows.Scan(&s.Route, &s.Field, &s.Stored, &s.Failed, &s.StoredBytes); err != nil {
			return nil, fmt.Errorf("failed to scan summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
