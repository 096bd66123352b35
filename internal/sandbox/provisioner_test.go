package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlab/renderbox/internal/provider"
	"github.com/renderlab/renderbox/internal/storage/sqlite"
)

func defaultResolver(name string) (provider.Template, error) {
	return provider.DefaultTemplate(), nil
}

func newTestProvisioner(t *testing.T, prov provider.Provider, restorer SnapshotRestorer) (*Provisioner, *Registry, *sqlite.SQLiteStore) {
	t.Helper()

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	reg := NewRegistry()
	p := NewProvisioner(reg, prov, store, restorer, NewKeyedMutex(), defaultResolver, 5*time.Second)
	return p, reg, store
}

func TestProvisioner_Provision(t *testing.T) {
	fake := &fakeProvider{}
	p, reg, _ := newTestProvisioner(t, fake, nil)

	inst, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	require.NoError(t, err)

	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, "n1", inst.NodeID)
	assert.Equal(t, StatusRunning, inst.Status)
	assert.Equal(t, "ref-1", inst.ExecutionRef)
	assert.Equal(t, "/workspace", inst.WorkRoot)

	active, ok := reg.ActiveForNode("n1")
	require.True(t, ok)
	assert.Equal(t, inst.ID, active.ID)
}

func TestProvisioner_ConflictOnActiveNode(t *testing.T) {
	p, _, _ := newTestProvisioner(t, &fakeProvider{}, nil)

	_, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	require.NoError(t, err)

	_, err = p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestProvisioner_StartFailure(t *testing.T) {
	startErr := errors.New("substrate refused to start")
	fake := &fakeProvider{
		startFunc: func(ctx context.Context, ref string) error { return startErr },
	}
	p, reg, store := newTestProvisioner(t, fake, nil)

	_, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})

	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, "n1", provErr.NodeID)
	assert.Equal(t, "ref-1", provErr.SubstrateRef)
	assert.ErrorIs(t, err, startErr)

	// The partial resource was torn down, not leaked.
	assert.Equal(t, []string{"ref-1"}, fake.destroyed())

	// The instance ended destroyed and freed the node slot.
	_, ok := reg.ActiveForNode("n1")
	assert.False(t, ok)

	// The failure was journaled for manual retry.
	fails, err := store.ListProvisionFailures(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, fails, 1)
	assert.Equal(t, "n1", fails[0].NodeID)
	assert.Equal(t, "ref-1", fails[0].SubstrateRef)
	assert.Contains(t, fails[0].Cause, "refused to start")

	// The node is free for a retry.
	_, err = p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	assert.Error(t, err) // still failing, but not with Conflict
	assert.NotErrorIs(t, err, ErrConflict)
}

func TestProvisioner_CreateTimeout(t *testing.T) {
	fake := &fakeProvider{
		createFunc: func(ctx context.Context, spec provider.CreateSpec) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}

	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()

	reg := NewRegistry()
	p := NewProvisioner(reg, fake, store, nil, NewKeyedMutex(), defaultResolver, 50*time.Millisecond)

	_, err = p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	var provErr *ProvisionError
	require.ErrorAs(t, err, &provErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fixedRestorer struct {
	data []byte
	err  error
}

func (f *fixedRestorer) Restore(ctx context.Context, nodeID string) ([]byte, error) {
	return f.data, f.err
}

func TestProvisioner_SeedsFromSnapshot(t *testing.T) {
	var seeded []byte
	fake := &fakeProvider{
		createFunc: func(ctx context.Context, spec provider.CreateSpec) (string, error) {
			seeded = spec.Restore
			return "ref-1", nil
		},
	}
	p, _, _ := newTestProvisioner(t, fake, &fixedRestorer{data: []byte("archive-bytes")})

	_, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1", FromSnapshot: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("archive-bytes"), seeded)
}

func TestProvisioner_RestoreFailureAbortsBeforeCreate(t *testing.T) {
	restoreErr := errors.New("no snapshot")
	fake := &fakeProvider{}
	p, _, _ := newTestProvisioner(t, fake, &fixedRestorer{err: restoreErr})

	_, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1", FromSnapshot: true})
	assert.ErrorIs(t, err, restoreErr)
	assert.Equal(t, 0, fake.createCalls)
}

func TestProvisioner_DestroyIsIdempotent(t *testing.T) {
	fake := &fakeProvider{}
	p, reg, _ := newTestProvisioner(t, fake, nil)

	inst, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	require.NoError(t, err)

	require.NoError(t, p.Destroy(context.Background(), inst.ID))
	got, ok := reg.Get(inst.ID)
	require.True(t, ok)
	assert.Equal(t, StatusDestroyed, got.Status)

	// Second destroy is a no-op, and the substrate is not hit again.
	require.NoError(t, p.Destroy(context.Background(), inst.ID))
	assert.Equal(t, []string{inst.ExecutionRef}, fake.destroyed())

	// Unknown ids also succeed.
	require.NoError(t, p.Destroy(context.Background(), "never-existed"))
}

func TestProvisioner_DestroyToleratesGoneResource(t *testing.T) {
	fake := &fakeProvider{
		destroyFunc: func(ctx context.Context, ref string) error {
			return provider.ErrRefNotFound
		},
	}
	p, reg, _ := newTestProvisioner(t, fake, nil)

	inst, err := p.Provision(context.Background(), ProvisionRequest{NodeID: "n1"})
	require.NoError(t, err)

	require.NoError(t, p.Destroy(context.Background(), inst.ID))
	got, _ := reg.Get(inst.ID)
	assert.Equal(t, StatusDestroyed, got.Status)
}
