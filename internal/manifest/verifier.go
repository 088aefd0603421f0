package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/xela07ax/agentos-kernel-prototype/internal/capability"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// Verify — единственная точка входа доверия к манифесту: парсинг TOML,
// семантическая валидация и (опционально) криптографическая проверка
// конверта. Чистая функция, никаких side-эффектов: запись в аудит —
// ответственность вызывающего.
//
// Если конверт передан, подпись перепроверяется над точными байтами
// manifestTOML. Конверт с подмененным телом никогда не валидируется:
// мы сверяем и подпись, и то, что текст в конверте байт-в-байт
// совпадает с тем, что нам принесли на spawn.
func Verify(manifestTOML string, env *Envelope) (*domain.AgentManifest, error) {
	if env != nil {
		if env.ManifestTOML != manifestTOML {
			return nil, signatureErr("envelope manifest text does not match submitted manifest")
		}
		if !env.VerifySignature() {
			return nil, signatureErr("ed25519 signature verification failed")
		}
	}

	var m domain.AgentManifest
	if err := toml.Unmarshal([]byte(manifestTOML), &m); err != nil {
		return nil, parseErr("malformed manifest TOML", err)
	}

	if err := validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// validate отсекает семантически битые манифесты до того, как они
// дойдут до реестра. Лимиты ресурсов обязаны быть положительными:
// агент с нулевой квотой — это ошибка конфигурации, а не "запрет".
func validate(m *domain.AgentManifest) error {
	if m.Name == "" {
		return validationErr("name is required")
	}
	if m.Module == "" {
		return validationErr("module entry point is required")
	}
	if m.Resources.MaxLLMTokensPerHour == 0 {
		return validationErr("resources.max_llm_tokens_per_hour must be positive")
	}
	if m.Resources.MaxConcurrentTools == 0 {
		return validationErr("resources.max_concurrent_tools must be positive")
	}

	for _, t := range m.Capabilities.Tools {
		if err := capability.ValidateToolName(t); err != nil {
			return validationErr(fmt.Sprintf("capabilities.tools: %v", err))
		}
	}
	for _, p := range m.Capabilities.MemoryRead {
		if err := capability.ValidatePattern(p); err != nil {
			return validationErr(fmt.Sprintf("capabilities.memory_read: %v", err))
		}
	}
	for _, p := range m.Capabilities.MemoryWrite {
		if err := capability.ValidatePattern(p); err != nil {
			return validationErr(fmt.Sprintf("capabilities.memory_write: %v", err))
		}
	}
	return nil
}
