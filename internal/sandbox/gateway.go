package sandbox

import (
	"context"
	"errors"
	"log/slog"
	"path"

	"github.com/renderlab/renderbox/internal/log"
	"github.com/renderlab/renderbox/internal/provider"
)

// Gateway serves files out of live sandboxes. Every request is path-validated
// before any substrate I/O, and every successful read counts as activity for
// the idle clock.
type Gateway struct {
	reg    *Registry
	prov   provider.Provider
	logger *slog.Logger
}

// NewGateway wires a gateway against the registry and provider.
func NewGateway(reg *Registry, prov provider.Provider) *Gateway {
	return &Gateway{reg: reg, prov: prov, logger: log.WithComponent("gateway")}
}

// ReadFile returns a file's bytes and content type. Traversal and absolute
// paths fail with ErrInvalidPath before the provider is touched; unknown or
// non-live sandboxes and missing files fail with ErrNotFound; anything else
// from the substrate moves the instance to error and surfaces as a
// SubstrateError.
func (g *Gateway) ReadFile(ctx context.Context, sandboxID, requestedPath string) ([]byte, string, error) {
	rel, err := SafeRelPath(requestedPath)
	if err != nil {
		return nil, "", err
	}

	inst, ok := g.reg.Get(sandboxID)
	if !ok || !inst.Status.Live() {
		return nil, "", ErrNotFound
	}

	full := path.Join(inst.WorkRoot, rel)
	data, err := g.prov.ReadFile(ctx, inst.ExecutionRef, full)
	if err != nil {
		if errors.Is(err, provider.ErrFileNotFound) {
			return nil, "", ErrNotFound
		}
		if errors.Is(err, provider.ErrRefNotFound) {
			// Substrate lost the resource underneath us; flag for the reaper.
			g.markError(sandboxID, inst.Status)
			return nil, "", ErrNotFound
		}
		g.markError(sandboxID, inst.Status)
		return nil, "", &SubstrateError{Op: "read " + rel, Err: err}
	}

	if _, err := g.reg.Touch(sandboxID); err != nil && !errors.Is(err, ErrNotFound) {
		g.logger.Warn("access bump failed", "sandbox_id", sandboxID, "error", err)
	}

	return data, ContentTypeFor(rel), nil
}

func (g *Gateway) markError(sandboxID string, observed Status) {
	if err := g.reg.UpdateStatus(sandboxID, observed, StatusError); err != nil {
		// Lost the race to the reaper or a destroy; either way the instance
		// is on its way out.
		g.logger.Debug("error transition skipped", "sandbox_id", sandboxID, "error", err)
	}
}
