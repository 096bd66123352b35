package sandbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/renderlab/renderbox/internal/log"
)

// Destroyer releases a sandbox and its substrate resource. Satisfied by the
// provisioner.
type Destroyer interface {
	Destroy(ctx context.Context, id string) error
}

// Reaper reclaims sandboxes nobody is using: running instances go idle after
// IdleAfter without access, idle and running instances are destroyed past
// IdleTTL, and errored instances are destroyed regardless of age. Snapshot
// state is never touched.
type Reaper struct {
	reg       *Registry
	destroyer Destroyer
	idleAfter time.Duration
	idleTTL   time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewReaper wires a reaper. It does nothing until Run is called.
func NewReaper(reg *Registry, destroyer Destroyer, idleAfter, idleTTL, interval time.Duration) *Reaper {
	return &Reaper{
		reg:       reg,
		destroyer: destroyer,
		idleAfter: idleAfter,
		idleTTL:   idleTTL,
		interval:  interval,
		logger:    log.WithComponent("reaper"),
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reclamation pass.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	for _, inst := range r.reg.List() {
		age := now.Sub(inst.LastAccessedAt)

		switch {
		case inst.Status == StatusError:
			r.destroy(ctx, inst, "errored")

		case inst.Status.Live() && age > r.idleTTL:
			r.destroy(ctx, inst, "idle ttl exceeded")

		case inst.Status == StatusRunning && age > r.idleAfter:
			if err := r.reg.UpdateStatus(inst.ID, StatusRunning, StatusIdle); err == nil {
				r.logger.Info("sandbox idled", "sandbox_id", inst.ID, "node_id", inst.NodeID)
			}

		case inst.Status == StatusDestroyed:
			// Destroyed entries have already released their substrate
			// resource; drop the bookkeeping.
			r.reg.Remove(inst.ID)
		}
	}
}

func (r *Reaper) destroy(ctx context.Context, inst Instance, reason string) {
	if err := r.destroyer.Destroy(ctx, inst.ID); err != nil {
		r.logger.Warn("reclaim failed", "sandbox_id", inst.ID, "reason", reason, "error", err)
		return
	}
	r.logger.Info("sandbox reclaimed", "sandbox_id", inst.ID, "node_id", inst.NodeID, "reason", reason)
}
