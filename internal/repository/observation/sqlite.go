package observation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"goldwatch/internal/gold"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends one observation and returns the stored row. History is
// append-only; rows are never updated or deleted.
func (r *Repository) Insert(ctx context.Context, source gold.Source, price float64, unit string, capturedAt time.Time) (*gold.Observation, error) {
	const query = `INSERT INTO observations (source, price, unit, captured_at)
		VALUES (?, ?, ?, ?)`

	// Second precision keeps the stored strings fixed-width so the
	// captured_at ordering in queries is chronological; same-second inserts
	// are ordered by id.
	capturedAt = capturedAt.UTC().Truncate(time.Second)
	res, err := r.db.ExecContext(ctx, query,
		string(source), price, unit, capturedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert observation: %w", err)
	}

	id, _ := res.LastInsertId()
	return &gold.Observation{
		ID:         id,
		Source:     source,
		Price:      price,
		Unit:       unit,
		CapturedAt: capturedAt,
	}, nil
}

// Latest returns the newest observation for a source, or nil when the source
// has no history yet.
func (r *Repository) Latest(ctx context.Context, source gold.Source) (*gold.Observation, error) {
	const query = `SELECT id, source, price, unit, captured_at
		FROM observations
		WHERE source = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`

	o, err := scanObservation(r.db.QueryRowContext(ctx, query, string(source)))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	return o, nil
}

// ListSince returns a source's observations newest first. A nil days means
// the full history; otherwise only observations from the last N days.
func (r *Repository) ListSince(ctx context.Context, source gold.Source, days *int) ([]gold.Observation, error) {
	query := `SELECT id, source, price, unit, captured_at
		FROM observations
		WHERE source = ?`
	args := []any{string(source)}

	if days != nil {
		query += " AND captured_at >= ?"
		cutoff := time.Now().UTC().AddDate(0, 0, -*days)
		args = append(args, cutoff.Format(time.RFC3339))
	}
	query += " ORDER BY captured_at DESC, id DESC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var observations []gold.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		observations = append(observations, *o)
	}

	return observations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanObservation(s scanner) (*gold.Observation, error) {
	o := &gold.Observation{}
	var src, capturedStr string
	if err := s.Scan(&o.ID, &src, &o.Price, &o.Unit, &capturedStr); err != nil {
		return nil, err
	}
	o.Source = gold.Source(src)
	o.CapturedAt, _ = time.Parse(time.RFC3339, capturedStr)
	return o, nil
}
