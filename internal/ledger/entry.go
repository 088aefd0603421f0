package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Action — тегированный вид security-релевантного действия.
type Action string

const (
	ActionAgentSpawn       Action = "agent_spawn"
	ActionAgentKill        Action = "agent_kill"
	ActionAgentState       Action = "agent_state" // pause/resume/errored
	ActionToolInvoke       Action = "tool_invoke"
	ActionCapabilityDenied Action = "capability_denied"
	ActionQuotaExceeded    Action = "quota_exceeded"
	ActionConfigChange     Action = "config_change"
	ActionTriggerFire      Action = "trigger_fire"
	ActionChainVerify      Action = "chain_verify"
)

// Entry — одна запись цепочки. Создается один раз, никогда не
// мутируется и не удаляется. TipHash связывает запись с предыдущей:
// tip = SHA-256(prev_tip ∥ canonical(entry-without-hash)).
type Entry struct {
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Action    Action    `json:"action"`
	AgentID   string    `json:"agent"`
	Detail    string    `json:"detail"` // Санитизирован вызывающим, без payload'ов и секретов
	TipHash   string    `json:"tip_hash"`
}

// canonical — детерминированная сериализация записи без хэша.
// Формат зафиксирован: любая его смена ломает верификацию всех
// существующих цепочек, поэтому версия зашита в префикс.
func (e *Entry) canonical() string {
	return fmt.Sprintf("v1|%d|%s|%s|%s|%s",
		e.Sequence,
		e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Action,
		e.AgentID,
		e.Detail,
	)
}

// computeTip — rolling-хэш поверх предыдущего tip и канонических байт.
func computeTip(prevTip string, e *Entry) string {
	h := sha256.New()
	h.Write([]byte(prevTip))
	h.Write([]byte{'\n'})
	h.Write([]byte(e.canonical()))
	return hex.EncodeToString(h.Sum(nil))
}
