package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlab/renderbox/internal/storage"
)

func TestSnapshotRecordLifecycle(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	got, err := store.GetSnapshot(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, got)

	rec := &storage.SnapshotRecord{
		NodeID:     "n1",
		StorageKey: "abc.tar.gz",
		SizeBytes:  1204000,
		Checksum:   "deadbeef",
	}
	require.NoError(t, store.PutSnapshot(ctx, rec))
	assert.False(t, rec.CreatedAt.IsZero())

	got, err = store.GetSnapshot(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1204000), got.SizeBytes)
	assert.Equal(t, "abc.tar.gz", got.StorageKey)

	// Upsert replaces in place, keyed by node.
	require.NoError(t, store.PutSnapshot(ctx, &storage.SnapshotRecord{
		NodeID:     "n1",
		StorageKey: "def.tar.gz",
		SizeBytes:  99,
		Checksum:   "cafef00d",
		CreatedAt:  time.Now().UTC(),
	}))

	got, err = store.GetSnapshot(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "def.tar.gz", got.StorageKey)

	recs, err := store.ListSnapshots(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	require.NoError(t, store.DeleteSnapshot(ctx, "n1"))
	got, err = store.GetSnapshot(ctx, "n1")
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting a nonexistent record succeeds silently.
	require.NoError(t, store.DeleteSnapshot(ctx, "n1"))
}

func TestProvisionFailureJournal(t *testing.T) {
	store, err := Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	fails, err := store.ListProvisionFailures(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, fails)

	f := &storage.ProvisionFailure{
		NodeID:       "n1",
		TemplateRef:  "manim",
		SubstrateRef: "container-123",
		Cause:        "start timed out",
	}
	require.NoError(t, store.RecordProvisionFailure(ctx, f))
	assert.NotZero(t, f.ID)

	require.NoError(t, store.RecordProvisionFailure(ctx, &storage.ProvisionFailure{
		NodeID: "n2",
		Cause:  "image pull failed",
	}))

	fails, err = store.ListProvisionFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, fails, 2)
	// Newest first.
	assert.Equal(t, "n2", fails[0].NodeID)
	assert.Equal(t, "n1", fails[1].NodeID)
	assert.Equal(t, "container-123", fails[1].SubstrateRef)

	fails, err = store.ListProvisionFailures(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, fails, 1)
}
