package store

import (
	"context"
	"database/sql"
	"fmt"
)

// Checker is one host-faking rule served to hfi helper binaries. The
// server only stores and de-duplicates these; their meaning lives in the
// helper.
type Checker struct {
	Service string `json:"service"`
	Port    int    `json:"port"`
	Delta   int    `json:"delta"`
}

// Checkers lists every registered checker.
func (s *Store) Checkers(ctx context.Context) ([]Checker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT service_name, port, delta FROM hfi`)
	if err != nil {
		return nil, fmt.Errorf("querying checkers: %w", err)
	}
	defer rows.Close()

	checkers := []Checker{}
	for rows.Next() {
		var c Checker
		if err := rows.Scan(&c.Service, &c.Port, &c.Delta); err != nil {
			return nil, fmt.Errorf("scanning checker row: %w", err)
		}
		checkers = append(checkers, c)
	}
	return checkers, rows.Err()
}

// AddChecker registers a checker; a duplicate delta is silently ignored.
func (s *Store) AddChecker(ctx context.Context, c Checker) error {
	if c.Service == "" {
		c.Service = "unknown"
	}
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO hfi (service_name, port, delta)
			VALUES (?, ?, ?)
			ON CONFLICT (delta) DO NOTHING`, c.Service, c.Port, c.Delta)
		if err != nil {
			return fmt.Errorf("adding checker: %w", err)
		}
		return nil
	})
}

// RemoveChecker drops the checker with the given delta.
func (s *Store) RemoveChecker(ctx context.Context, delta int) error {
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM hfi WHERE delta = ?`, delta); err != nil {
			return fmt.Errorf("removing checker: %w", err)
		}
		return nil
	})
}
