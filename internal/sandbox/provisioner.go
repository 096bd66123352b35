package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/renderlab/renderbox/internal/log"
	"github.com/renderlab/renderbox/internal/provider"
	"github.com/renderlab/renderbox/internal/storage"
)

// SnapshotRestorer yields the archive a new instance is seeded from. It is
// satisfied by the snapshot manager; the indirection keeps this package from
// depending on it.
type SnapshotRestorer interface {
	Restore(ctx context.Context, nodeID string) ([]byte, error)
}

// TemplateResolver maps a template ref to a concrete template. An empty ref
// resolves to the default.
type TemplateResolver func(name string) (provider.Template, error)

// ProvisionRequest asks for a new sandbox for a canvas node.
type ProvisionRequest struct {
	NodeID      string
	TemplateRef string
	// FromSnapshot seeds the work root from the node's saved snapshot.
	FromSnapshot bool
}

// Provisioner creates sandboxes on the execution provider and owns their
// destruction. Operations for the same node are serialized through the shared
// keyed mutex.
type Provisioner struct {
	reg      *Registry
	prov     provider.Provider
	store    storage.Store
	restorer SnapshotRestorer
	locks    *KeyedMutex
	resolve  TemplateResolver
	timeout  time.Duration
	logger   *slog.Logger
}

// NewProvisioner wires a provisioner. restorer may be nil when snapshot
// seeding is not available.
func NewProvisioner(reg *Registry, prov provider.Provider, store storage.Store, restorer SnapshotRestorer, locks *KeyedMutex, resolve TemplateResolver, timeout time.Duration) *Provisioner {
	return &Provisioner{
		reg:      reg,
		prov:     prov,
		store:    store,
		restorer: restorer,
		locks:    locks,
		resolve:  resolve,
		timeout:  timeout,
		logger:   log.WithComponent("provisioner"),
	}
}

// Provision creates, seeds, and starts a sandbox for a node. It fails with
// ErrConflict if the node already has an active instance, and with a
// ProvisionError if the substrate cannot start within the timeout — in that
// case the partial resource is torn down and the failure journaled.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (Instance, error) {
	p.locks.Lock(req.NodeID)
	defer p.locks.Unlock(req.NodeID)

	if _, ok := p.reg.ActiveForNode(req.NodeID); ok {
		return Instance{}, ErrConflict
	}

	tpl, err := p.resolve(req.TemplateRef)
	if err != nil {
		return Instance{}, err
	}

	var restore []byte
	if req.FromSnapshot {
		if p.restorer == nil {
			return Instance{}, errors.New("snapshot restore not configured")
		}
		restore, err = p.restorer.Restore(ctx, req.NodeID)
		if err != nil {
			return Instance{}, err
		}
	}

	now := time.Now().UTC()
	inst := Instance{
		ID:             uuid.New().String(),
		NodeID:         req.NodeID,
		Status:         StatusProvisioning,
		TemplateRef:    tpl.Name,
		WorkRoot:       tpl.WorkRoot,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	if err := p.reg.Register(inst); err != nil {
		return Instance{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ref, err := p.prov.Create(cctx, provider.CreateSpec{Template: tpl, Restore: restore})
	if err != nil {
		return Instance{}, p.fail(inst, ref, err)
	}
	if err := p.reg.BindExecution(inst.ID, ref); err != nil {
		return Instance{}, p.fail(inst, ref, err)
	}
	if err := p.prov.Start(cctx, ref); err != nil {
		return Instance{}, p.fail(inst, ref, err)
	}

	if err := p.reg.UpdateStatus(inst.ID, StatusProvisioning, StatusRunning); err != nil {
		return Instance{}, p.fail(inst, ref, err)
	}

	out, _ := p.reg.Get(inst.ID)
	p.logger.Info("sandbox provisioned", "sandbox_id", inst.ID, "node_id", req.NodeID, "template", tpl.Name)
	return out, nil
}

// fail moves a half-provisioned instance to error, journals the cause, tears
// down whatever the substrate allocated, and leaves the instance destroyed.
func (p *Provisioner) fail(inst Instance, ref string, cause error) error {
	p.logger.Error("provision failed", "sandbox_id", inst.ID, "node_id", inst.NodeID, "error", cause)

	if err := p.reg.UpdateStatus(inst.ID, StatusProvisioning, StatusError); err != nil {
		p.logger.Warn("marking failed provision", "sandbox_id", inst.ID, "error", err)
	}

	// Journaling and teardown run on a fresh context; the caller's may
	// already be expired, and the substrate resource must not leak.
	tctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.store.RecordProvisionFailure(tctx, &storage.ProvisionFailure{
		NodeID:       inst.NodeID,
		TemplateRef:  inst.TemplateRef,
		SubstrateRef: ref,
		Cause:        cause.Error(),
	}); err != nil {
		p.logger.Warn("journaling provision failure", "node_id", inst.NodeID, "error", err)
	}

	if ref != "" {
		if err := p.prov.Destroy(tctx, ref); err != nil && !errors.Is(err, provider.ErrRefNotFound) {
			p.logger.Warn("tearing down failed provision", "substrate_ref", ref, "error", err)
		}
	}
	if err := p.reg.UpdateStatus(inst.ID, StatusError, StatusDestroyed); err != nil {
		p.logger.Warn("finalizing failed provision", "sandbox_id", inst.ID, "error", err)
	}

	return &ProvisionError{NodeID: inst.NodeID, SubstrateRef: ref, Err: cause}
}

// Destroy releases an instance and its substrate resource. It is idempotent:
// unknown and already-destroyed ids succeed, and a substrate that has already
// dropped the resource counts as released.
func (p *Provisioner) Destroy(ctx context.Context, id string) error {
	inst, ok := p.reg.Get(id)
	if !ok {
		return nil
	}

	p.locks.Lock(inst.NodeID)
	defer p.locks.Unlock(inst.NodeID)

	// Re-read under the lock; a racing destroy may have finished first.
	inst, ok = p.reg.Get(id)
	if !ok || inst.Status == StatusDestroyed {
		return nil
	}

	if err := p.reg.UpdateStatus(id, inst.Status, StatusDestroyed); err != nil {
		if cur, ok := p.reg.Get(id); !ok || cur.Status == StatusDestroyed {
			return nil
		}
		return err
	}

	if inst.ExecutionRef != "" {
		if err := p.prov.Destroy(ctx, inst.ExecutionRef); err != nil && !errors.Is(err, provider.ErrRefNotFound) {
			p.logger.Warn("substrate destroy failed", "sandbox_id", id, "error", err)
			return &SubstrateError{Op: "destroy", Err: err}
		}
	}

	p.logger.Info("sandbox destroyed", "sandbox_id", id, "node_id", inst.NodeID)
	return nil
}
