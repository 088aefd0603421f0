package capability

import (
	"fmt"

	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// Wildcard в allowlist'е тулов означает "разрешено все".
// Пустой же список трактуется как "запрещено все" (Zero Trust):
// отсутствие декларации — не согласие.
const Wildcard = "*"

// MemoryOp различает чтение и запись ключа памяти.
type MemoryOp string

const (
	MemoryRead  MemoryOp = "read"
	MemoryWrite MemoryOp = "write"
)

// DeniedError — ожидаемый, нефатальный отказ авторизации.
// Вызывающий обязан записать его в AuditLedger; сам guard никуда
// не пишет и ничего не логирует — это чистая функция от манифеста
// и запроса, безопасная на горячем пути каждого вызова тула.
type DeniedError struct {
	AgentID string
	Op      string // "tool" | "memory_read" | "memory_write"
	Target  string // Имя тула или ключ памяти (без payload'а)
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("capability denied: agent %s is not permitted %s %q", e.AgentID, e.Op, e.Target)
}

// CheckTool проверяет, входит ли тул в декларированный allowlist.
func CheckTool(agentID string, m *domain.AgentManifest, tool string) error {
	for _, t := range m.Capabilities.Tools {
		if t == Wildcard || t == tool {
			return nil
		}
	}
	return &DeniedError{AgentID: agentID, Op: "tool", Target: tool}
}

// CheckMemory проверяет ключ памяти против glob-паттернов нужного
// направления. Достаточно совпадения хотя бы с одним паттерном.
func CheckMemory(agentID string, m *domain.AgentManifest, op MemoryOp, key string) error {
	patterns := m.Capabilities.MemoryRead
	opName := "memory_read"
	if op == MemoryWrite {
		patterns = m.Capabilities.MemoryWrite
		opName = "memory_write"
	}

	for _, p := range patterns {
		if globMatch(p, key) {
			return nil
		}
	}
	return &DeniedError{AgentID: agentID, Op: opName, Target: key}
}
