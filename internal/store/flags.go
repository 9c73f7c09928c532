package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/h4ppyfarm/farm/internal/metrics"
	"github.com/h4ppyfarm/farm/internal/timeutil"
)

// Flag status values. PENDING is the only non-terminal state: once a row
// leaves it, it never goes back.
const (
	StatusPending  = 0
	StatusExpired  = 1
	StatusUnknown  = 2
	StatusAccepted = 3
	StatusRejected = 4
)

// Flag is one row of the flags table.
type Flag struct {
	Flag                string
	Exploit             string
	Status              int
	Timestamp           int64
	SubmissionTimestamp *int64
	SystemMessage       *string
}

// FlagView is a Flag augmented with the derived lifetime served by the
// paginated read: seconds between capture and submission (or now, while
// still pending).
type FlagView struct {
	Flag
	Lifetime int64
}

// Incoming is a normalized ingest entry: a flag string plus its capture
// timestamp.
type Incoming struct {
	Flag      string
	Timestamp int64
}

// Verdict is the game system's answer for one flag.
type Verdict struct {
	Flag    string
	Status  int
	Message string
}

// InsertMany stores entries as PENDING rows under the given exploit
// name. Duplicate flag strings are silently kept unchanged (first
// ingest wins), which makes the call idempotent. Returns the number of
// rows actually inserted.
func (s *Store) InsertMany(ctx context.Context, exploit string, entries []Incoming) (int, error) {
	inserted := 0
	err := s.withWriter(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO flags (flag, exploit, status, timestamp)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (flag) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, entry := range entries {
			res, err := stmt.ExecContext(ctx, entry.Flag, exploit, StatusPending, entry.Timestamp)
			if err != nil {
				return fmt.Errorf("inserting flag: %w", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.FlagsIngested.Add(float64(inserted))
	return inserted, nil
}

// RecordVerdicts applies submission outcomes. Only PENDING rows are
// touched: terminal states are never overwritten, and a flag the game
// system did not mention stays PENDING for the next batch.
func (s *Store) RecordVerdicts(ctx context.Context, verdicts []Verdict, now int64) error {
	if len(verdicts) == 0 {
		return nil
	}
	return s.withWriter(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE flags
			SET status = ?, submission_timestamp = ?, system_message = ?
			WHERE flag = ? AND status = ?`)
		if err != nil {
			return fmt.Errorf("preparing verdict update: %w", err)
		}
		defer stmt.Close()
		for _, v := range verdicts {
			if _, err := stmt.ExecContext(ctx, v.Status, now, v.Message, v.Flag, StatusPending); err != nil {
				return fmt.Errorf("recording verdict for %s: %w", v.Flag, err)
			}
		}
		return nil
	})
}

// NextPendingBatch returns up to limit PENDING flags, oldest first, so
// close-to-expiry flags are drained before fresher ones.
func (s *Store) NextPendingBatch(ctx context.Context, limit int) ([]Flag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flag, exploit, status, timestamp, submission_timestamp, system_message
		FROM flags
		WHERE status = ?
		ORDER BY timestamp ASC
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("querying pending batch: %w", err)
	}
	defer rows.Close()
	return scanFlags(rows)
}

// SweepExpired marks every PENDING flag past its lifetime as EXPIRED.
// Returns the number of rows expired.
func (s *Store) SweepExpired(ctx context.Context, now int64) (int64, error) {
	threshold := now - s.lifetime
	s.logger.Printf("Expiring all flags older than %s", timeutil.FormatUnix(threshold))

	var expired int64
	err := s.withWriter(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE flags
			SET status = ?, submission_timestamp = ?, system_message = 'Expired'
			WHERE status = ? AND timestamp <= ?`,
			StatusExpired, now, StatusPending, threshold)
		if err != nil {
			return fmt.Errorf("expiring flags: %w", err)
		}
		expired, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	metrics.FlagsExpired.Add(float64(expired))
	return expired, nil
}

// Page returns count flags starting at offset, newest first, each with
// its derived lifetime relative to now.
func (s *Store) Page(ctx context.Context, offset, count int, now int64) ([]FlagView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT flag, exploit, status, timestamp, submission_timestamp, system_message
		FROM flags
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, count, offset)
	if err != nil {
		return nil, fmt.Errorf("querying flags page: %w", err)
	}
	defer rows.Close()

	flags, err := scanFlags(rows)
	if err != nil {
		return nil, err
	}
	views := make([]FlagView, 0, len(flags))
	for _, f := range flags {
		end := now
		if f.SubmissionTimestamp != nil && *f.SubmissionTimestamp > 0 {
			end = *f.SubmissionTimestamp
		}
		views = append(views, FlagView{Flag: f, Lifetime: end - f.Timestamp})
	}
	return views, nil
}

func scanFlags(rows *sql.Rows) ([]Flag, error) {
	var flags []Flag
	for rows.Next() {
		var f Flag
		var subTS sql.NullInt64
		var msg sql.NullString
		if err := rows.Scan(&f.Flag, &f.Exploit, &f.Status, &f.Timestamp, &subTS, &msg); err != nil {
			return nil, fmt.Errorf("scanning flag row: %w", err)
		}
		if subTS.Valid {
			ts := subTS.Int64
			f.SubmissionTimestamp = &ts
		}
		if msg.Valid {
			m := msg.String
			f.SystemMessage = &m
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}
