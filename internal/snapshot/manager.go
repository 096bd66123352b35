// Package snapshot persists durable archives of a sandbox's output subtree so
// a node's rendered state survives sandbox destruction.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/renderlab/renderbox/internal/blob"
	"github.com/renderlab/renderbox/internal/log"
	"github.com/renderlab/renderbox/internal/provider"
	"github.com/renderlab/renderbox/internal/sandbox"
	"github.com/renderlab/renderbox/internal/storage"
)

// ErrNotFound means no snapshot record exists for the node.
var ErrNotFound = errors.New("snapshot not found")

// StorageError wraps a durable-storage failure during save, restore, or
// delete. The manager never retries; callers decide.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("snapshot storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Manager owns snapshot records and their archive blobs. Saves write the new
// archive under a fresh key and only then swap the record, so a crash
// mid-save leaves the previous snapshot intact. One record per node; a new
// save replaces the old one.
type Manager struct {
	reg       *sandbox.Registry
	prov      provider.Provider
	blobs     blob.Store
	store     storage.Store
	locks     *sandbox.KeyedMutex
	outputDir string
	logger    *slog.Logger
}

// NewManager wires a snapshot manager. outputDir is the default subtree
// captured when a save names none.
func NewManager(reg *sandbox.Registry, prov provider.Provider, blobs blob.Store, store storage.Store, locks *sandbox.KeyedMutex, outputDir string) *Manager {
	return &Manager{
		reg:       reg,
		prov:      prov,
		blobs:     blobs,
		store:     store,
		locks:     locks,
		outputDir: outputDir,
		logger:    log.WithComponent("snapshot"),
	}
}

// GetMetadata returns the record for a node without touching archive content,
// or nil if none exists.
func (m *Manager) GetMetadata(ctx context.Context, nodeID string) (*storage.SnapshotRecord, error) {
	rec, err := m.store.GetSnapshot(ctx, nodeID)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	return rec, nil
}

// Save captures subpath under the sandbox's work root into durable storage
// and swaps the node's record to point at it. An empty subpath captures the
// configured output directory.
func (m *Manager) Save(ctx context.Context, nodeID, sandboxID, subpath string) (*storage.SnapshotRecord, error) {
	if subpath == "" {
		subpath = m.outputDir
	}
	rel, err := sandbox.SafeRelPath(subpath)
	if err != nil {
		return nil, err
	}

	m.locks.Lock(nodeID)
	defer m.locks.Unlock(nodeID)

	inst, ok := m.reg.Get(sandboxID)
	if !ok || !inst.Status.Live() || inst.NodeID != nodeID {
		return nil, sandbox.ErrNotFound
	}

	data, err := m.prov.CopyOut(ctx, inst.ExecutionRef, path.Join(inst.WorkRoot, rel))
	if err != nil {
		if errors.Is(err, provider.ErrFileNotFound) {
			return nil, sandbox.ErrNotFound
		}
		if uerr := m.reg.UpdateStatus(sandboxID, inst.Status, sandbox.StatusError); uerr != nil {
			m.logger.Debug("error transition skipped", "sandbox_id", sandboxID, "error", uerr)
		}
		return nil, &sandbox.SubstrateError{Op: "copy out " + rel, Err: err}
	}

	sum := blake3.Sum256(data)
	rec := &storage.SnapshotRecord{
		NodeID:     nodeID,
		StorageKey: uuid.New().String() + ".tar.gz",
		SizeBytes:  int64(len(data)),
		Checksum:   hex.EncodeToString(sum[:]),
	}

	prev, err := m.store.GetSnapshot(ctx, nodeID)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}

	if err := m.blobs.Put(ctx, rec.StorageKey, data); err != nil {
		return nil, &StorageError{Op: "put", Err: err}
	}
	if err := m.store.PutSnapshot(ctx, rec); err != nil {
		// The new blob never became visible; remove it and keep the old
		// record authoritative.
		if derr := m.blobs.Delete(ctx, rec.StorageKey); derr != nil && !errors.Is(derr, blob.ErrNotFound) {
			m.logger.Warn("orphaned snapshot blob", "key", rec.StorageKey, "error", derr)
		}
		return nil, &StorageError{Op: "swap", Err: err}
	}

	// Record swapped; the previous archive is unreachable and can go.
	if prev != nil && prev.StorageKey != rec.StorageKey {
		if err := m.blobs.Delete(ctx, prev.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			m.logger.Warn("removing superseded snapshot blob", "key", prev.StorageKey, "error", err)
		}
	}

	if _, err := m.reg.Touch(sandboxID); err != nil {
		m.logger.Debug("access bump failed", "sandbox_id", sandboxID, "error", err)
	}

	m.logger.Info("snapshot saved", "node_id", nodeID, "sandbox_id", sandboxID, "size_bytes", rec.SizeBytes)
	return rec, nil
}

// Restore fetches the node's archive, verifying it against the recorded
// checksum. It fails with ErrNotFound if no record exists.
func (m *Manager) Restore(ctx context.Context, nodeID string) ([]byte, error) {
	rec, err := m.store.GetSnapshot(ctx, nodeID)
	if err != nil {
		return nil, &StorageError{Op: "get", Err: err}
	}
	if rec == nil {
		return nil, ErrNotFound
	}

	data, err := m.blobs.Get(ctx, rec.StorageKey)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return nil, &StorageError{Op: "get", Err: fmt.Errorf("record points at missing blob %s", rec.StorageKey)}
		}
		return nil, &StorageError{Op: "get", Err: err}
	}

	sum := blake3.Sum256(data)
	if hex.EncodeToString(sum[:]) != rec.Checksum {
		return nil, &StorageError{Op: "verify", Err: fmt.Errorf("checksum mismatch for %s", rec.StorageKey)}
	}
	return data, nil
}

// Delete removes a node's snapshot record and archive. Deleting a node with
// no snapshot succeeds silently.
func (m *Manager) Delete(ctx context.Context, nodeID string) error {
	m.locks.Lock(nodeID)
	defer m.locks.Unlock(nodeID)

	rec, err := m.store.GetSnapshot(ctx, nodeID)
	if err != nil {
		return &StorageError{Op: "get", Err: err}
	}
	if rec == nil {
		return nil
	}

	if err := m.store.DeleteSnapshot(ctx, nodeID); err != nil {
		return &StorageError{Op: "delete", Err: err}
	}
	if err := m.blobs.Delete(ctx, rec.StorageKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
		m.logger.Warn("removing snapshot blob", "key", rec.StorageKey, "error", err)
	}

	m.logger.Info("snapshot deleted", "node_id", nodeID)
	return nil
}
