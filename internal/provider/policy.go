package provider

// Policy defines resource limits for Docker-backed sandboxes.
type Policy struct {
	MaxMemory string   // Docker memory limit (e.g. "512m")
	Network   bool     // Whether network access is allowed
	Images    []string // Allowed Docker images
}

// DefaultPolicy returns safe defaults for rendering sandboxes.
func DefaultPolicy() Policy {
	return Policy{
		MaxMemory: "512m",
		Network:   false,
		Images: []string{
			"python:3.12-slim",
			"node:22-slim",
		},
	}
}

// IsImageAllowed checks if an image is on the allowlist.
func (p Policy) IsImageAllowed(image string) bool {
	for _, allowed := range p.Images {
		if allowed == image {
			return true
		}
	}
	return false
}
