package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/agentos-kernel-prototype/internal/capability"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
	"github.com/xela07ax/agentos-kernel-prototype/internal/manifest"
	"github.com/xela07ax/agentos-kernel-prototype/internal/quota"
	"github.com/xela07ax/agentos-kernel-prototype/internal/registry"
	"github.com/xela07ax/agentos-kernel-prototype/internal/trigger"
)

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError переводит типизированные ошибки ядра в HTTP-статусы.
// Тело ошибки не несет внутренних деталей сверх того, что ошибка
// сама готова показать.
func writeError(w http.ResponseWriter, err error) {
	var (
		deniedErr  *capability.DeniedError
		quotaErr   *quota.ExceededError
		maniErr    *manifest.Error
		patternErr *trigger.InvalidPatternError
		policyErr  *engine.PolicyViolationError
		chainErr   *ledger.ChainBrokenError
	)

	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, trigger.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, registry.ErrParentNotFound):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case errors.As(err, &deniedErr):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: err.Error(), Kind: "capability_denied"})
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: err.Error(), Kind: "quota_exceeded"})
	case errors.As(err, &maniErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: string(maniErr.Kind)})
	case errors.As(err, &patternErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: "invalid_pattern"})
	case errors.As(err, &policyErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), Kind: "policy_violation"})
	case errors.As(err, &chainErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "chain_broken"})
	case errors.Is(err, ledger.ErrHalted):
		// Ядро заморожено: мутации недоступны до рестарта
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error(), Kind: "ledger_halted"})
	case errors.Is(err, engine.ErrAgentNotRunning):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}
