// Package provider abstracts the execution substrate that runs sandbox code.
// Anything that can create, start, read files from, archive, and destroy an
// isolated environment can back the sandbox service.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrRefNotFound means the substrate has no resource for the handle,
	// e.g. the container was already removed. Destroy treats it as success.
	ErrRefNotFound = errors.New("substrate resource not found")

	// ErrFileNotFound means the requested path does not exist inside a live
	// sandbox.
	ErrFileNotFound = errors.New("file not found in sandbox")
)

// CreateSpec describes a new sandbox environment.
type CreateSpec struct {
	Template Template
	// Restore, when non-nil, is a gzipped tarball extracted into the
	// template's work root before the sandbox starts.
	Restore []byte
}

// Provider is the capability interface over the execution substrate.
type Provider interface {
	// Create allocates an environment and returns an opaque handle.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start makes the environment ready to serve file reads.
	Start(ctx context.Context, ref string) error

	// ReadFile returns the content of an absolute in-sandbox path.
	ReadFile(ctx context.Context, ref, path string) ([]byte, error)

	// CopyOut archives the subtree at an absolute in-sandbox path as a
	// gzipped tarball with members relative to that path.
	CopyOut(ctx context.Context, ref, path string) ([]byte, error)

	// Destroy releases the environment. Destroying an already-gone resource
	// returns ErrRefNotFound.
	Destroy(ctx context.Context, ref string) error
}
