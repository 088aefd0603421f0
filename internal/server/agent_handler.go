package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
)

// SpawnRequest — тело запроса на создание агента. signed_manifest —
// опциональный Ed25519-конверт; если системная политика требует
// подписи, без него запрос отлетит.
type SpawnRequest struct {
	ManifestTOML   string          `json:"manifest_toml"`
	SignedManifest json.RawMessage `json:"signed_manifest,omitempty"`
	Parent         string          `json:"parent,omitempty"`
}

type AgentHandler struct {
	kernel *engine.Kernel
}

func NewAgentHandler(k *engine.Kernel) *AgentHandler {
	return &AgentHandler{kernel: k}
}

func (h *AgentHandler) Spawn(w http.ResponseWriter, r *http.Request) {
	var req SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ManifestTOML == "" {
		http.Error(w, "manifest_toml is required", http.StatusBadRequest)
		return
	}

	entry, err := h.kernel.SpawnAgent(r.Context(), req.ManifestTOML, req.SignedManifest, req.Parent)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *AgentHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.kernel.Registry().List())
}

func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	entry, ok := h.kernel.Registry().Get(id)
	if !ok {
		http.Error(w, "agent not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *AgentHandler) Kill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.kernel.KillAgent(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.StatePaused)
}

func (h *AgentHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, domain.StateRunning)
}

func (h *AgentHandler) transition(w http.ResponseWriter, r *http.Request, next domain.AgentState) {
	id := chi.URLParam(r, "id")
	if err := h.kernel.SetAgentState(r.Context(), id, next); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AgentHandler) UpdateManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SpawnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.ManifestTOML == "" {
		http.Error(w, "manifest_toml is required", http.StatusBadRequest)
		return
	}

	entry, err := h.kernel.UpdateAgentManifest(r.Context(), id, req.ManifestTOML, req.SignedManifest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
