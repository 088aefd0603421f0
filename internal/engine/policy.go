package engine

import (
	"fmt"

	"github.com/xela07ax/agentos-kernel-prototype/internal/capability"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// PolicyViolationError — манифест синтаксически валиден, но просит
// больше, чем разрешает системная политика.
type PolicyViolationError struct {
	Reason string
}

func (e *PolicyViolationError) Error() string {
	return "system policy violation: " + e.Reason
}

// SystemPolicy — пределы установки, против которых валидируются
// декларации манифестов при spawn и update. Отличие от CapabilityGuard:
// guard проверяет запрос против манифеста, политика — манифест против
// системы.
type SystemPolicy struct {
	// AllowedTools — allowlist тулов, которые агенты вообще могут
	// декларировать. Пустой список = декларировать можно любой.
	AllowedTools []string

	// Потолки на заявляемые лимиты. 0 = потолка нет.
	MaxTokensPerHourCap uint64
	MaxConcurrentCap    uint32

	// RequireSigned — отклонять манифесты без подписанного конверта.
	RequireSigned bool
}

// ValidateManifest сверяет декларации манифеста с политикой.
// Wildcard "*" в манифесте допустим, только если политика не сужает
// список тулов: иначе агент обошел бы allowlist одной звездочкой.
func (p *SystemPolicy) ValidateManifest(m *domain.AgentManifest) error {
	if p == nil {
		return nil
	}

	if len(p.AllowedTools) > 0 {
		allowed := make(map[string]struct{}, len(p.AllowedTools))
		for _, t := range p.AllowedTools {
			allowed[t] = struct{}{}
		}
		for _, t := range m.Capabilities.Tools {
			if t == capability.Wildcard {
				return &PolicyViolationError{Reason: "wildcard tool capability is not permitted by system policy"}
			}
			if _, ok := allowed[t]; !ok {
				return &PolicyViolationError{Reason: fmt.Sprintf("tool %q is not in the system allowlist", t)}
			}
		}
	}

	if p.MaxTokensPerHourCap > 0 && m.Resources.MaxLLMTokensPerHour > p.MaxTokensPerHourCap {
		return &PolicyViolationError{Reason: fmt.Sprintf(
			"max_llm_tokens_per_hour %d exceeds system cap %d",
			m.Resources.MaxLLMTokensPerHour, p.MaxTokensPerHourCap)}
	}
	if p.MaxConcurrentCap > 0 && m.Resources.MaxConcurrentTools > p.MaxConcurrentCap {
		return &PolicyViolationError{Reason: fmt.Sprintf(
			"max_concurrent_tools %d exceeds system cap %d",
			m.Resources.MaxConcurrentTools, p.MaxConcurrentCap)}
	}
	return nil
}
