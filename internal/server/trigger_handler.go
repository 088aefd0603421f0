package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
)

// RegisterTriggerRequest — тело регистрации триггера. ID опционален:
// пустой заменяется сгенерированным UUID.
type RegisterTriggerRequest struct {
	ID       string             `json:"id,omitempty"`
	AgentID  string             `json:"agent_id"`
	Kind     domain.PatternKind `json:"kind"`
	Param    string             `json:"param"`
	Prompt   string             `json:"prompt"`
	MaxFires uint64             `json:"max_fires"`
}

type TriggerHandler struct {
	kernel *engine.Kernel
}

func NewTriggerHandler(k *engine.Kernel) *TriggerHandler {
	return &TriggerHandler{kernel: k}
}

func (h *TriggerHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		http.Error(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	id, err := h.kernel.Triggers().Register(domain.TriggerDefinition{
		ID:       req.ID,
		AgentID:  req.AgentID,
		Kind:     req.Kind,
		Param:    req.Param,
		Prompt:   req.Prompt,
		MaxFires: req.MaxFires,
		Enabled:  true,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	def, err := h.kernel.Triggers().Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, def)
}

func (h *TriggerHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.kernel.Triggers().List())
}

func (h *TriggerHandler) Get(w http.ResponseWriter, r *http.Request) {
	def, err := h.kernel.Triggers().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, def)
}

func (h *TriggerHandler) Unregister(w http.ResponseWriter, r *http.Request) {
	if err := h.kernel.Triggers().Unregister(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TriggerHandler) Enable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *TriggerHandler) Disable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *TriggerHandler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	if err := h.kernel.Triggers().SetEnabled(chi.URLParam(r, "id"), enabled); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
