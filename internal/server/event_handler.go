package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/engine"
)

type EventHandler struct {
	kernel *engine.Kernel
}

func NewEventHandler(k *engine.Kernel) *EventHandler {
	return &EventHandler{kernel: k}
}

// Webhook — входящий хук. Токен в пути сверяется с Webhook-триггерами
// в константное время; неизвестный токен неотличим от отключенного
// триггера (тот же 200 с нулем срабатываний — перебор не подсказываем).
func (h *EventHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	fired := h.kernel.HandleWebhook(r.Context(), token)
	writeJSON(w, http.StatusOK, map[string]int{"fired": fired})
}

// Message принимает нормализованное сообщение от адаптера и отдает
// его триггерам. Платформенный payload остается в Metadata нетронутым.
func (h *EventHandler) Message(w http.ResponseWriter, r *http.Request) {
	var msg domain.ChannelMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	h.kernel.HandleMessage(r.Context(), msg)
	w.WriteHeader(http.StatusAccepted)
}
