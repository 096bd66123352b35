package storage

import (
	"context"
	"time"
)

// SnapshotRecord is the durable pointer to a node's latest snapshot archive.
// The archive itself lives in the blob store under StorageKey; the record is
// swapped atomically on save so a crash mid-write leaves the prior snapshot
// reachable.
type SnapshotRecord struct {
	NodeID     string    `json:"node_id"`
	StorageKey string    `json:"storage_key"`
	SizeBytes  int64     `json:"size_bytes"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProvisionFailure journals a failed sandbox provision with enough detail to
// retry it manually.
type ProvisionFailure struct {
	ID           int64     `json:"id"`
	NodeID       string    `json:"node_id"`
	TemplateRef  string    `json:"template_ref"`
	SubstrateRef string    `json:"substrate_ref"`
	Cause        string    `json:"cause"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is the persistence interface for snapshot records and the provision
// failure journal.
type Store interface {
	// GetSnapshot returns the record for a node, or nil if none exists.
	GetSnapshot(ctx context.Context, nodeID string) (*SnapshotRecord, error)

	// PutSnapshot inserts or atomically replaces the record for rec.NodeID.
	PutSnapshot(ctx context.Context, rec *SnapshotRecord) error

	// DeleteSnapshot removes the record for a node. Deleting a nonexistent
	// record is a no-op.
	DeleteSnapshot(ctx context.Context, nodeID string) error

	// ListSnapshots returns all records ordered by created_at descending.
	ListSnapshots(ctx context.Context) ([]SnapshotRecord, error)

	// RecordProvisionFailure appends to the failure journal.
	RecordProvisionFailure(ctx context.Context, f *ProvisionFailure) error

	// ListProvisionFailures returns the most recent failures, newest first.
	ListProvisionFailures(ctx context.Context, limit int) ([]ProvisionFailure, error)

	// Close releases resources.
	Close() error
}
