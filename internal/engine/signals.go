package engine

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/infra"
	"go.uber.org/zap"
)

// SignalBus транслирует решения ядра внешним адаптерам через Redis
// Pub/Sub: kill-сигнал означает «перестань маршрутизировать этому
// агенту немедленно», не дожидаясь очередного опроса реестра.
//
// Доставка сигнала — best effort: источником правды остается реестр,
// поэтому сбой публикации логируется, но операцию не валит.
type SignalBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewSignalBus(rdb *redis.Client, logger *zap.Logger) *SignalBus {
	return &SignalBus{
		rdb:    rdb,
		logger: logger.Named("signals"),
	}
}

// AnnounceKill публикует kill-сигнал. Формат "agent_id:true" —
// слушатели на стороне адаптеров разбирают его как id:status.
func (b *SignalBus) AnnounceKill(ctx context.Context, agentID string) {
	payload := infra.SignalPayload(agentID, "true")
	if err := b.rdb.Publish(ctx, infra.RedisChanKillSignal, payload).Err(); err != nil {
		b.logger.Warn("kill signal delivery failed",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return
	}
	b.logger.Info("kill signal published", zap.String("agent_id", agentID))
}

// AnnounceState публикует смену состояния (pause/resume) для
// индикации на стороне каналов.
func (b *SignalBus) AnnounceState(ctx context.Context, agentID string, state domain.AgentState) {
	payload := infra.SignalPayload(agentID, string(state))
	if err := b.rdb.Publish(ctx, infra.RedisChanAgentState, payload).Err(); err != nil {
		b.logger.Warn("state signal delivery failed",
			zap.String("agent_id", agentID),
			zap.Error(err))
	}
}
