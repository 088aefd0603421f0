package server

import (
	"net/http"
	"strconv"

	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
)

type AuditHandler struct {
	kernel *engine.Kernel
}

func NewAuditHandler(k *engine.Kernel) *AuditHandler {
	return &AuditHandler{kernel: k}
}

// Query возвращает записи цепочки с поддержкой фильтрации
// GET /v1/audit?agent_id=...&action=...&since_seq=...&limit=...
func (h *AuditHandler) Query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := ledger.Filter{
		Action:  ledger.Action(q.Get("action")),
		AgentID: q.Get("agent_id"),
	}
	if v := q.Get("since_seq"); v != "" {
		seq, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "since_seq must be an unsigned integer", http.StatusBadRequest)
			return
		}
		f.SinceSeq = seq
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		f.Limit = limit
	}

	writeJSON(w, http.StatusOK, h.kernel.Ledger().Query(f))
}

// Verify пересчитывает всю цепочку по требованию оператора.
// POST /v1/audit/verify
func (h *AuditHandler) Verify(w http.ResponseWriter, r *http.Request) {
	if err := h.kernel.VerifyChain(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"length": h.kernel.Ledger().Len(),
		"tip":    h.kernel.Ledger().Tip(),
	})
}
