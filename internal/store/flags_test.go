package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLifetime = 600 // seconds

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", testLifetime)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mustFlag(t *testing.T, s *Store, flag string) Flag {
	t.Helper()
	views, err := s.Page(context.Background(), 0, 100, 0)
	require.NoError(t, err)
	for _, v := range views {
		if v.Flag.Flag == flag {
			return v.Flag
		}
	}
	t.Fatalf("flag %s not found", flag)
	return Flag{}
}

func TestInsertManyFirstWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.InsertMany(ctx, "sploit-a", []Incoming{{Flag: "FLAG1", Timestamp: 1000}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Same flag from a different exploit one second later: silently
	// dropped, the first row is kept unchanged.
	n, err = s.InsertMany(ctx, "sploit-b", []Incoming{{Flag: "FLAG1", Timestamp: 1001}})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	row := mustFlag(t, s, "FLAG1")
	assert.Equal(t, "sploit-a", row.Exploit)
	assert.Equal(t, int64(1000), row.Timestamp)
	assert.Equal(t, StatusPending, row.Status)
}

func TestInsertManyIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	batch := []Incoming{{Flag: "A", Timestamp: 1}, {Flag: "B", Timestamp: 2}}
	for i := 0; i < 3; i++ {
		_, err := s.InsertMany(ctx, "sploit", batch)
		require.NoError(t, err)
	}
	views, err := s.Page(ctx, 0, 100, 10)
	require.NoError(t, err)
	assert.Len(t, views, 2)
}

func TestNextPendingBatchOldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{
		{Flag: "NEW", Timestamp: 300},
		{Flag: "OLD", Timestamp: 100},
		{Flag: "MID", Timestamp: 200},
	})
	require.NoError(t, err)

	batch, err := s.NextPendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)
	assert.Equal(t, "OLD", batch[0].Flag)
	assert.Equal(t, "MID", batch[1].Flag)
	assert.Equal(t, "NEW", batch[2].Flag)

	// The limit keeps the oldest entries.
	batch, err = s.NextPendingBatch(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "OLD", batch[0].Flag)
}

func TestRecordVerdictsOnlyTouchesPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{{Flag: "F", Timestamp: 100}})
	require.NoError(t, err)

	err = s.RecordVerdicts(ctx, []Verdict{{Flag: "F", Status: StatusAccepted, Message: "nice"}}, 150)
	require.NoError(t, err)

	row := mustFlag(t, s, "F")
	assert.Equal(t, StatusAccepted, row.Status)
	require.NotNil(t, row.SubmissionTimestamp)
	assert.Equal(t, int64(150), *row.SubmissionTimestamp)
	require.NotNil(t, row.SystemMessage)
	assert.Equal(t, "nice", *row.SystemMessage)

	// A later verdict for a terminal row is a no-op.
	err = s.RecordVerdicts(ctx, []Verdict{{Flag: "F", Status: StatusRejected, Message: "late"}}, 200)
	require.NoError(t, err)
	row = mustFlag(t, s, "F")
	assert.Equal(t, StatusAccepted, row.Status)
	assert.Equal(t, "nice", *row.SystemMessage)
}

func TestRecordVerdictsUnknownFlag(t *testing.T) {
	s := newTestStore(t)
	err := s.RecordVerdicts(context.Background(), []Verdict{{Flag: "GHOST", Status: StatusAccepted}}, 100)
	assert.NoError(t, err)
}

func TestSweepExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{
		{Flag: "OLD", Timestamp: 0},
		{Flag: "FRESH", Timestamp: 500},
	})
	require.NoError(t, err)

	// now = 600: OLD (ts 0) has hit timestamp + lifetime <= now, FRESH
	// has not.
	expired, err := s.SweepExpired(ctx, testLifetime)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	old := mustFlag(t, s, "OLD")
	assert.Equal(t, StatusExpired, old.Status)
	require.NotNil(t, old.SubmissionTimestamp)
	assert.Equal(t, int64(testLifetime), *old.SubmissionTimestamp)
	require.NotNil(t, old.SystemMessage)
	assert.Equal(t, "Expired", *old.SystemMessage)

	fresh := mustFlag(t, s, "FRESH")
	assert.Equal(t, StatusPending, fresh.Status)

	// An expired flag never returns to the pending batch.
	batch, err := s.NextPendingBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "FRESH", batch[0].Flag)
}

func TestSweepDoesNotResurrectTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{{Flag: "F", Timestamp: 0}})
	require.NoError(t, err)
	require.NoError(t, s.RecordVerdicts(ctx, []Verdict{{Flag: "F", Status: StatusRejected, Message: "bad"}}, 10))

	expired, err := s.SweepExpired(ctx, 10*testLifetime)
	require.NoError(t, err)
	assert.Zero(t, expired)
	assert.Equal(t, StatusRejected, mustFlag(t, s, "F").Status)
}

func TestPageNewestFirstWithLifetime(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{
		{Flag: "A", Timestamp: 100},
		{Flag: "B", Timestamp: 200},
	})
	require.NoError(t, err)
	require.NoError(t, s.RecordVerdicts(ctx, []Verdict{{Flag: "A", Status: StatusAccepted, Message: "ok"}}, 160))

	views, err := s.Page(ctx, 0, 100, 250)
	require.NoError(t, err)
	require.Len(t, views, 2)

	// Newest first.
	assert.Equal(t, "B", views[0].Flag.Flag)
	assert.Equal(t, "A", views[1].Flag.Flag)

	// B is still pending: lifetime runs against now. A was submitted at
	// 160: lifetime is frozen there.
	assert.Equal(t, int64(50), views[0].Lifetime)
	assert.Equal(t, int64(60), views[1].Lifetime)
}

func TestPageOffset(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.InsertMany(ctx, "sploit", []Incoming{
		{Flag: "A", Timestamp: 100},
		{Flag: "B", Timestamp: 200},
		{Flag: "C", Timestamp: 300},
	})
	require.NoError(t, err)

	views, err := s.Page(ctx, 1, 1, 400)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "B", views[0].Flag.Flag)
}
