package domain

// AgentManifest — декларативное определение агента: кто он, на какой
// модели работает, сколько ресурсов может съесть и что ему разрешено.
// Набор capabilities неизменяем на протяжении жизни агента; смена
// требует re-spawn либо явной аудируемой операции обновления.
type AgentManifest struct {
	Name        string   `toml:"name" json:"name"`
	Version     string   `toml:"version" json:"version"`
	Description string   `toml:"description" json:"description"`
	Author      string   `toml:"author" json:"author"`
	Module      string   `toml:"module" json:"module"` // Точка входа исполнения, напр. "builtin:chat"
	Tags        []string `toml:"tags" json:"tags"`

	// Allowlist навыков и MCP-серверов. Пустой список = "deny all";
	// единственный wildcard-кейс — явная "*".
	Skills     []string `toml:"skills" json:"skills"`
	MCPServers []string `toml:"mcp_servers" json:"mcp_servers"`

	Model        ModelConfig    `toml:"model" json:"model"`
	Resources    ResourceLimits `toml:"resources" json:"resources"`
	Capabilities Capabilities   `toml:"capabilities" json:"capabilities"`
}

// ModelConfig — выбор LLM. Сам протокол запрос/ответ ядро не определяет.
type ModelConfig struct {
	Provider     string  `toml:"provider" json:"provider"`
	Model        string  `toml:"model" json:"model"`
	MaxTokens    int     `toml:"max_tokens" json:"max_tokens"`
	Temperature  float64 `toml:"temperature" json:"temperature"`
	SystemPrompt string  `toml:"system_prompt" json:"system_prompt"`
}

// ResourceLimits — заявленные квоты агента.
type ResourceLimits struct {
	MaxLLMTokensPerHour uint64 `toml:"max_llm_tokens_per_hour" json:"max_llm_tokens_per_hour"`
	MaxConcurrentTools  uint32 `toml:"max_concurrent_tools" json:"max_concurrent_tools"`
}

// Capabilities — разрешения агента: имена тулов и glob-паттерны
// ключей памяти. Паттерны валидируются синтаксически при парсинге.
type Capabilities struct {
	Tools       []string `toml:"tools" json:"tools"`
	MemoryRead  []string `toml:"memory_read" json:"memory_read"`
	MemoryWrite []string `toml:"memory_write" json:"memory_write"`
}

// Clone возвращает глубокую копию манифеста.
func (m AgentManifest) Clone() AgentManifest {
	cp := m
	cp.Tags = append([]string(nil), m.Tags...)
	cp.Skills = append([]string(nil), m.Skills...)
	cp.MCPServers = append([]string(nil), m.MCPServers...)
	cp.Capabilities.Tools = append([]string(nil), m.Capabilities.Tools...)
	cp.Capabilities.MemoryRead = append([]string(nil), m.Capabilities.MemoryRead...)
	cp.Capabilities.MemoryWrite = append([]string(nil), m.Capabilities.MemoryWrite...)
	return cp
}
