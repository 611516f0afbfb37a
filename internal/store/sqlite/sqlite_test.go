package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jeremy-Gitau/launch-pad/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.EnsureSchema(context.Background()))
	return db
}

func TestRecordAndHistory(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.RecordTransition(ctx, store.Record{
		Service: "redis", From: "stopped", To: "starting", At: base,
	}))
	require.NoError(t, db.RecordTransition(ctx, store.Record{
		Service: "redis", From: "starting", To: "running", At: base.Add(time.Second),
	}))
	require.NoError(t, db.RecordTransition(ctx, store.Record{
		Service: "backend", From: "running", To: "failed", Detail: "exit code 1", At: base.Add(2 * time.Second),
	}))

	recs, err := db.History(ctx, "redis", 10)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	// newest first
	assert.Equal(t, "running", recs[0].To)
	assert.Equal(t, "starting", recs[1].To)

	all, err := db.History(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "backend", all[0].Service)
	assert.Equal(t, "exit code 1", all[0].Detail)
}

func TestHistoryLimit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordTransition(ctx, store.Record{
			Service: "worker", From: "a", To: "b", At: time.Now(),
		}))
	}
	recs, err := db.History(ctx, "worker", 3)
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestNewRejectsEmptyPath(t *testing.T) {
	_, err := New("  ")
	assert.Error(t, err)
}
