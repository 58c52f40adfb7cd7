// Package store - SQLite recording of analysis results.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/nvr-ai/leafscan/analysis"
)

const schema = `
	CREATE TABLE IF NOT EXISTS analyses (
		analysis_id TEXT PRIMARY KEY,
		image_path TEXT NOT NULL,
		image_width INTEGER,
		image_height INTEGER,
		success BOOLEAN NOT NULL,
		error TEXT,
		layout TEXT,
		detection_ms DOUBLE,
		classification_ms DOUBLE,
		output_path TEXT,
		save_error TEXT,
		started_at TIMESTAMP,
		finished_at TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS leaves (
		analysis_id TEXT NOT NULL,
		leaf_id INTEGER NOT NULL,
		x1 DOUBLE, y1 DOUBLE, x2 DOUBLE, y2 DOUBLE,
		detection_confidence DOUBLE,
		area_percentage DOUBLE,
		label TEXT,
		class_index INTEGER,
		confidence DOUBLE,
		failed BOOLEAN NOT NULL,
		error TEXT,
		PRIMARY KEY (analysis_id, leaf_id),
		FOREIGN KEY(analysis_id) REFERENCES analyses(analysis_id)
	);
`

// Store records analysis results in a SQLite database.
type Store struct {
	*sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	// A single connection serializes writers from concurrent image analyses.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to create schema")
	}
	return &Store{db}, nil
}

// Record inserts result and its leaf records in one transaction.
func (s *Store) Record(ctx context.Context, result *analysis.AnalysisResult) error {
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO analyses (analysis_id, image_path, image_width, image_height, success, error, layout,
			detection_ms, classification_ms, output_path, save_error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		result.ID, result.ImagePath, result.ImageWidth, result.ImageHeight, result.Success, result.Error, result.Layout,
		ms(result.DetectionTime), ms(result.ClassificationTime), result.OutputPath, result.SaveError,
		result.Start.UTC(), result.End.UTC())
	if err != nil {
		return errors.Wrapf(err, "failed to insert analysis %s", result.ID)
	}

	for _, rec := range result.Records {
		var (
			label      sql.NullString
			classIndex sql.NullInt64
			confidence sql.NullFloat64
		)
		if rec.Outcome != nil {
			label = sql.NullString{String: rec.Outcome.Label, Valid: true}
			classIndex = sql.NullInt64{Int64: int64(rec.Outcome.ClassIndex), Valid: true}
			confidence = sql.NullFloat64{Float64: float64(rec.Outcome.Confidence), Valid: true}
		}
		d := rec.Detection
		_, err = tx.ExecContext(ctx, `
			INSERT INTO leaves (analysis_id, leaf_id, x1, y1, x2, y2, detection_confidence, area_percentage,
				label, class_index, confidence, failed, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID, d.ID, float64(d.Box.X1), float64(d.Box.Y1), float64(d.Box.X2), float64(d.Box.Y2),
			float64(d.Confidence), float64(d.AreaPercentage),
			label, classIndex, confidence, rec.Failed(), rec.Error)
		if err != nil {
			return errors.Wrapf(err, "failed to insert leaf %d of %s", d.ID, result.ID)
		}
	}

	return errors.Wrap(tx.Commit(), "failed to commit analysis")
}

// LabelCount is the number of leaves recorded with one label.
type LabelCount struct {
	Label string
	Count int
}

// LabelCounts returns the recorded leaves grouped by predicted label, most
// frequent first. Unclassified leaves are omitted.
func (s *Store) LabelCounts(ctx context.Context) ([]LabelCount, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT label, COUNT(*) FROM leaves
		WHERE label IS NOT NULL
		GROUP BY label
		ORDER BY COUNT(*) DESC, label ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query label counts")
	}
	defer rows.Close()

	var counts []LabelCount
	for rows.Next() {
		var c LabelCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
