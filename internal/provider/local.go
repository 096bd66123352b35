package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/renderlab/renderbox/internal/archive"
)

// LocalProvider backs each sandbox with a plain host directory. It exists for
// development and tests, where spinning up containers is overkill; in-sandbox
// paths resolve beneath the sandbox directory.
type LocalProvider struct {
	root string
}

// NewLocalProvider creates sandbox directories under root.
func NewLocalProvider(root string) (*LocalProvider, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	return &LocalProvider{root: root}, nil
}

func (l *LocalProvider) Create(ctx context.Context, spec CreateSpec) (string, error) {
	ref := uuid.New().String()
	workRoot := l.hostPath(ref, spec.Template.WorkRoot)
	if err := os.MkdirAll(workRoot, 0o755); err != nil {
		return "", fmt.Errorf("creating sandbox dir: %w", err)
	}

	if spec.Restore != nil {
		if err := archive.Unpack(spec.Restore, workRoot); err != nil {
			return ref, fmt.Errorf("seeding from snapshot: %w", err)
		}
	}
	return ref, nil
}

func (l *LocalProvider) Start(ctx context.Context, ref string) error {
	if _, err := os.Stat(l.dir(ref)); os.IsNotExist(err) {
		return ErrRefNotFound
	} else if err != nil {
		return err
	}
	return nil
}

func (l *LocalProvider) ReadFile(ctx context.Context, ref, path string) ([]byte, error) {
	if _, err := os.Stat(l.dir(ref)); os.IsNotExist(err) {
		return nil, ErrRefNotFound
	}

	data, err := os.ReadFile(l.hostPath(ref, path))
	if os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading sandbox file: %w", err)
	}
	return data, nil
}

func (l *LocalProvider) CopyOut(ctx context.Context, ref, path string) ([]byte, error) {
	if _, err := os.Stat(l.dir(ref)); os.IsNotExist(err) {
		return nil, ErrRefNotFound
	}

	dir := l.hostPath(ref, path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, ErrFileNotFound
	}
	return archive.Pack(dir)
}

func (l *LocalProvider) Destroy(ctx context.Context, ref string) error {
	dir := l.dir(ref)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ErrRefNotFound
	}
	return os.RemoveAll(dir)
}

// WriteFile plants a file inside a sandbox. Only the local provider offers
// this; real substrates get their content from the code running inside them.
func (l *LocalProvider) WriteFile(ref, path string, data []byte) error {
	host := l.hostPath(ref, path)
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return err
	}
	return os.WriteFile(host, data, 0o644)
}

func (l *LocalProvider) dir(ref string) string {
	return filepath.Join(l.root, ref)
}

// hostPath maps an absolute in-sandbox path to a host path under the sandbox
// directory.
func (l *LocalProvider) hostPath(ref, path string) string {
	rel := strings.TrimPrefix(path, "/")
	return filepath.Join(l.dir(ref), filepath.FromSlash(rel))
}
