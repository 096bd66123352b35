package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderlab/renderbox/internal/provider"
)

func newRunningInstance(t *testing.T, r *Registry, id, nodeID string) {
	t.Helper()
	require.NoError(t, r.Register(newTestInstance(id, nodeID, StatusProvisioning)))
	require.NoError(t, r.UpdateStatus(id, StatusProvisioning, StatusRunning))
}

func TestGateway_InvalidPathNeverTouchesProvider(t *testing.T) {
	fake := &fakeProvider{}
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	g := NewGateway(reg, fake)

	for _, p := range []string{"../../etc/passwd", "/etc/passwd", "output/../../x", ""} {
		_, _, err := g.ReadFile(context.Background(), "sb-1", p)
		assert.ErrorIs(t, err, ErrInvalidPath, "path %q", p)
	}
	assert.Empty(t, fake.reads())
}

func TestGateway_UnknownSandbox(t *testing.T) {
	g := NewGateway(NewRegistry(), &fakeProvider{})

	_, _, err := g.ReadFile(context.Background(), "xyz-unknown", "output/preview.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGateway_NonLiveSandbox(t *testing.T) {
	fake := &fakeProvider{}
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	require.NoError(t, reg.UpdateStatus("sb-1", StatusRunning, StatusDestroyed))
	g := NewGateway(reg, fake)

	_, _, err := g.ReadFile(context.Background(), "sb-1", "output/preview.mp4")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, fake.reads())
}

func TestGateway_ReadFile(t *testing.T) {
	fake := &fakeProvider{
		readFileFunc: func(ctx context.Context, ref, path string) ([]byte, error) {
			assert.Equal(t, "ref-sb-1", ref)
			assert.Equal(t, "/workspace/output/preview.mp4", path)
			return []byte("mp4-bytes"), nil
		},
	}
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	g := NewGateway(reg, fake)

	before, _ := reg.Get("sb-1")
	data, contentType, err := g.ReadFile(context.Background(), "sb-1", "output/preview.mp4")
	require.NoError(t, err)
	assert.Equal(t, []byte("mp4-bytes"), data)
	assert.Equal(t, "video/mp4", contentType)

	after, _ := reg.Get("sb-1")
	assert.False(t, after.LastAccessedAt.Before(before.LastAccessedAt))
}

func TestGateway_ContentTypes(t *testing.T) {
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	g := NewGateway(reg, &fakeProvider{})

	cases := map[string]string{
		"output/preview.mp4": "video/mp4",
		"output/frame.PNG":   "image/png",
		"render.log":         "text/plain; charset=utf-8",
		"output/data.bin":    "application/octet-stream",
		"noextension":        "application/octet-stream",
	}
	for path, want := range cases {
		_, got, err := g.ReadFile(context.Background(), "sb-1", path)
		require.NoError(t, err, "path %q", path)
		assert.Equal(t, want, got, "path %q", path)
	}
}

func TestGateway_MissingFileIsNotFound(t *testing.T) {
	fake := &fakeProvider{
		readFileFunc: func(ctx context.Context, ref, path string) ([]byte, error) {
			return nil, provider.ErrFileNotFound
		},
	}
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	g := NewGateway(reg, fake)

	_, _, err := g.ReadFile(context.Background(), "sb-1", "output/missing.mp4")
	assert.ErrorIs(t, err, ErrNotFound)

	// A missing file is not a substrate failure; the sandbox stays live.
	inst, _ := reg.Get("sb-1")
	assert.Equal(t, StatusRunning, inst.Status)
}

func TestGateway_SubstrateErrorFlagsInstance(t *testing.T) {
	fake := &fakeProvider{
		readFileFunc: func(ctx context.Context, ref, path string) ([]byte, error) {
			return nil, errors.New("exec pipe broke")
		},
	}
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	g := NewGateway(reg, fake)

	_, _, err := g.ReadFile(context.Background(), "sb-1", "output/preview.mp4")
	var subErr *SubstrateError
	require.ErrorAs(t, err, &subErr)

	inst, _ := reg.Get("sb-1")
	assert.Equal(t, StatusError, inst.Status)
}

func TestGateway_ReadRevivesIdle(t *testing.T) {
	reg := NewRegistry()
	newRunningInstance(t, reg, "sb-1", "n1")
	require.NoError(t, reg.UpdateStatus("sb-1", StatusRunning, StatusIdle))
	g := NewGateway(reg, &fakeProvider{})

	_, _, err := g.ReadFile(context.Background(), "sb-1", "output/preview.mp4")
	require.NoError(t, err)

	inst, _ := reg.Get("sb-1")
	assert.Equal(t, StatusRunning, inst.Status)
}
