package sandbox

import (
	"context"
	"sync"

	"github.com/renderlab/renderbox/internal/provider"
)

// fakeProvider implements provider.Provider for testing. Unset funcs succeed
// with zero values; calls are recorded.
type fakeProvider struct {
	mu sync.Mutex

	createFunc   func(ctx context.Context, spec provider.CreateSpec) (string, error)
	startFunc    func(ctx context.Context, ref string) error
	readFileFunc func(ctx context.Context, ref, path string) ([]byte, error)
	copyOutFunc  func(ctx context.Context, ref, path string) ([]byte, error)
	destroyFunc  func(ctx context.Context, ref string) error

	createCalls  int
	readCalls    []string
	destroyCalls []string
}

func (f *fakeProvider) Create(ctx context.Context, spec provider.CreateSpec) (string, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createFunc != nil {
		return f.createFunc(ctx, spec)
	}
	return "ref-1", nil
}

func (f *fakeProvider) Start(ctx context.Context, ref string) error {
	if f.startFunc != nil {
		return f.startFunc(ctx, ref)
	}
	return nil
}

func (f *fakeProvider) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	f.mu.Lock()
	f.readCalls = append(f.readCalls, path)
	f.mu.Unlock()
	if f.readFileFunc != nil {
		return f.readFileFunc(ctx, ref, path)
	}
	return []byte("data"), nil
}

func (f *fakeProvider) CopyOut(ctx context.Context, ref, path string) ([]byte, error) {
	if f.copyOutFunc != nil {
		return f.copyOutFunc(ctx, ref, path)
	}
	return []byte("archive"), nil
}

func (f *fakeProvider) Destroy(ctx context.Context, ref string) error {
	f.mu.Lock()
	f.destroyCalls = append(f.destroyCalls, ref)
	f.mu.Unlock()
	if f.destroyFunc != nil {
		return f.destroyFunc(ctx, ref)
	}
	return nil
}

func (f *fakeProvider) destroyed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.destroyCalls...)
}

func (f *fakeProvider) reads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.readCalls...)
}
