package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "fangos"
)

// Ключи состояния
const (
	// RedisKeyQuotaCheckpoint — хэш с чекпоинтами окон квот (agent_id -> json).
	RedisKeyQuotaCheckpoint = RedisNamespace + ":quota:checkpoint"
)

// Каналы Pub/Sub (сигналы наружу, к адаптерам)
const (
	// RedisChanKillSignal — ядро объявляет kill: адаптеры немедленно
	// прекращают маршрутизацию этому агенту.
	RedisChanKillSignal = RedisNamespace + ":agents:kill-signal"

	// RedisChanAgentState — смена состояния (paused/running) для
	// индикации на стороне каналов.
	RedisChanAgentState = RedisNamespace + ":agents:state-signal"
)

// SignalPayload собирает формат "id:status", единый для всех сигналов.
func SignalPayload(agentID, status string) string {
	return fmt.Sprintf("%s:%s", agentID, status)
}
