package sandbox

import (
	"log/slog"
	"sync"
	"time"

	"github.com/renderlab/renderbox/internal/log"
)

// StatusEvent is published to subscribers on every status transition.
type StatusEvent struct {
	SandboxID      string    `json:"sandbox_id"`
	NodeID         string    `json:"node_id"`
	Status         Status    `json:"status"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Registry is the authoritative in-memory map of sandbox instances. All
// status mutations go through compare-and-swap so concurrent callers (request
// handlers, the reaper) can never resurrect a destroyed instance or lose an
// update. State lives for the process lifetime only.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
	// byNode tracks the single active (non-terminal, non-error) instance per
	// node.
	byNode map[string]string

	subMu sync.Mutex
	subs  map[string]map[chan StatusEvent]struct{}

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		instances: make(map[string]*Instance),
		byNode:    make(map[string]string),
		subs:      make(map[string]map[chan StatusEvent]struct{}),
		logger:    log.WithComponent("registry"),
	}
}

// Register adds a new instance. The id must be unused.
func (r *Registry) Register(inst Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.instances[inst.ID]; ok {
		return ErrConflict
	}
	if _, ok := r.byNode[inst.NodeID]; ok {
		return ErrConflict
	}

	stored := inst
	r.instances[inst.ID] = &stored
	r.byNode[inst.NodeID] = inst.ID
	return nil
}

// Get returns a snapshot copy of an instance.
func (r *Registry) Get(id string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	if !ok {
		return Instance{}, false
	}
	return *inst, true
}

// ActiveForNode returns the active instance for a node, if any.
func (r *Registry) ActiveForNode(nodeID string) (Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byNode[nodeID]
	if !ok {
		return Instance{}, false
	}
	return *r.instances[id], true
}

// List returns snapshot copies of all instances.
func (r *Registry) List() []Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, *inst)
	}
	return out
}

// UpdateStatus compare-and-swaps an instance's status. It fails with
// ErrConflict if the current status is not `from` or the transition is not
// legal, and ErrNotFound for unknown ids.
func (r *Registry) UpdateStatus(id string, from, to Status) error {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if inst.Status != from || !CanTransition(from, to) {
		r.mu.Unlock()
		return ErrConflict
	}

	inst.Status = to
	// Error and destroyed instances no longer hold the node slot; a
	// replacement may be provisioned while they await reclamation.
	if to == StatusError || to == StatusDestroyed {
		if r.byNode[inst.NodeID] == id {
			delete(r.byNode, inst.NodeID)
		}
	}
	ev := statusEvent(inst)
	r.mu.Unlock()

	r.logger.Debug("status transition", "sandbox_id", id, "from", string(from), "to", string(to))
	r.publish(ev)
	return nil
}

// BindExecution records the substrate handle once provisioning has created
// the underlying resource.
func (r *Registry) BindExecution(id, executionRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.ExecutionRef = executionRef
	return nil
}

// Touch bumps LastAccessedAt and revives an idle instance. It returns the
// resulting status.
func (r *Registry) Touch(id string) (Status, error) {
	r.mu.Lock()
	inst, ok := r.instances[id]
	if !ok {
		r.mu.Unlock()
		return "", ErrNotFound
	}
	inst.LastAccessedAt = time.Now().UTC()

	var ev *StatusEvent
	if inst.Status == StatusIdle {
		inst.Status = StatusRunning
		e := statusEvent(inst)
		ev = &e
	}
	status := inst.Status
	r.mu.Unlock()

	if ev != nil {
		r.publish(*ev)
	}
	return status, nil
}

// Remove drops an instance from the registry entirely. Only the reaper calls
// this, after the instance is destroyed.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	if !ok {
		return
	}
	if r.byNode[inst.NodeID] == id {
		delete(r.byNode, inst.NodeID)
	}
	delete(r.instances, id)
}

// Subscribe registers for status events of one sandbox. The returned cancel
// func must be called to release the subscription. Slow consumers lose
// events rather than blocking the registry.
func (r *Registry) Subscribe(id string) (<-chan StatusEvent, func()) {
	ch := make(chan StatusEvent, 8)

	r.subMu.Lock()
	set, ok := r.subs[id]
	if !ok {
		set = make(map[chan StatusEvent]struct{})
		r.subs[id] = set
	}
	set[ch] = struct{}{}
	r.subMu.Unlock()

	cancel := func() {
		r.subMu.Lock()
		if set, ok := r.subs[id]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(r.subs, id)
			}
		}
		r.subMu.Unlock()
	}
	return ch, cancel
}

func (r *Registry) publish(ev StatusEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs[ev.SandboxID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func statusEvent(inst *Instance) StatusEvent {
	return StatusEvent{
		SandboxID:      inst.ID,
		NodeID:         inst.NodeID,
		Status:         inst.Status,
		LastAccessedAt: inst.LastAccessedAt,
	}
}
