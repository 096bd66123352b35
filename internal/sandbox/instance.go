// Package sandbox manages the lifecycle of rendering sandboxes: the
// authoritative registry, provisioning, file access, and reclamation.
package sandbox

import "time"

// Status is the lifecycle state of a sandbox instance.
type Status string

const (
	StatusProvisioning Status = "provisioning"
	StatusRunning      Status = "running"
	StatusIdle         Status = "idle"
	StatusError        Status = "error"
	StatusDestroyed    Status = "destroyed"
)

// transitions is the closed set of legal status moves. Destroyed is terminal;
// an instance never comes back, a replacement gets a fresh id.
var transitions = map[Status][]Status{
	StatusProvisioning: {StatusRunning, StatusError},
	StatusRunning:      {StatusIdle, StatusError, StatusDestroyed},
	StatusIdle:         {StatusRunning, StatusError, StatusDestroyed},
	StatusError:        {StatusDestroyed},
	StatusDestroyed:    {},
}

// CanTransition reports whether from -> to is a legal status move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Live reports whether the instance can serve file reads.
func (s Status) Live() bool {
	return s == StatusRunning || s == StatusIdle
}

// Instance is a sandbox tracked by the registry. Callers always receive
// copies; only the registry mutates the stored value.
type Instance struct {
	ID     string `json:"id"`
	NodeID string `json:"node_id"`
	Status Status `json:"status"`
	// TemplateRef names the template the instance was provisioned from.
	TemplateRef string `json:"template_ref"`
	// ExecutionRef is the opaque substrate handle. Only the provisioner and
	// gateway hand it to the provider.
	ExecutionRef string `json:"-"`
	// WorkRoot is the in-sandbox root all served paths resolve against.
	WorkRoot       string    `json:"work_root"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}
