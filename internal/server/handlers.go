package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/renderlab/renderbox/internal/sandbox"
	"github.com/renderlab/renderbox/internal/snapshot"
	"github.com/renderlab/renderbox/internal/storage"
)

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var provErr *sandbox.ProvisionError
	var subErr *sandbox.SubstrateError
	var storErr *snapshot.StorageError

	switch {
	case errors.Is(err, sandbox.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid path")
	case errors.Is(err, sandbox.ErrNotFound), errors.Is(err, snapshot.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, sandbox.ErrConflict):
		writeError(w, http.StatusConflict, "node already has an active sandbox")
	case errors.As(err, &provErr), errors.As(err, &subErr):
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &storErr):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// --- Sandbox handlers ---

type provisionRequest struct {
	NodeID       string `json:"node_id"`
	Template     string `json:"template"`
	FromSnapshot bool   `json:"from_snapshot"`
}

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "node_id is required")
		return
	}

	inst, err := s.provisioner.Provision(r.Context(), sandbox.ProvisionRequest{
		NodeID:       req.NodeID,
		TemplateRef:  req.Template,
		FromSnapshot: req.FromSnapshot,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, inst)
}

func (s *Server) handleListSandboxes(w http.ResponseWriter, r *http.Request) {
	instances := s.registry.List()
	if instances == nil {
		instances = []sandbox.Instance{}
	}
	writeJSON(w, http.StatusOK, instances)
}

func (s *Server) handleGetSandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "sandbox not found")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleDestroySandbox(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// Destroy is idempotent: unknown and already-destroyed ids succeed.
	if err := s.provisioner.Destroy(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	requested := r.URL.Query().Get("path")

	data, contentType, err := s.gateway.ReadFile(r.Context(), id, requested)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Sandbox output can change between polls; never let it be cached.
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// --- Snapshot handlers ---

type saveSnapshotRequest struct {
	SandboxID string `json:"sandbox_id"`
	Subpath   string `json:"subpath"`
}

func (s *Server) handleSaveSnapshot(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	var req saveSnapshotRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.SandboxID == "" {
		writeError(w, http.StatusBadRequest, "sandbox_id is required")
		return
	}

	rec, err := s.snapshots.Save(r.Context(), nodeID, req.SandboxID, req.Subpath)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	rec, err := s.snapshots.GetMetadata(r.Context(), nodeID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "no snapshot for node")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	if err := s.snapshots.Delete(r.Context(), nodeID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Provision failure journal ---

func (s *Server) handleListFailures(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	fails, err := s.store.ListProvisionFailures(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fails == nil {
		fails = []storage.ProvisionFailure{}
	}
	writeJSON(w, http.StatusOK, fails)
}
