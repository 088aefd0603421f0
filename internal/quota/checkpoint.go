package quota

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Состояние квот живет в памяти и рестарт не переживает — если его
// явно не чекпоинтить. Чекпоинт сохраняет только окно токенов:
// in-flight слоты по определению не переживают процесс, который их
// держал.

// checkpointEntry — сериализованное окно одного агента.
type checkpointEntry struct {
	Samples []checkpointSample `json:"samples"`
}

type checkpointSample struct {
	At time.Time `json:"at"`
	N  uint64    `json:"n"`
}

// Checkpoint выгружает окна всех живых агентов в Redis-хэш одним
// pipeline'ом. Вызывается по таймеру из main и на graceful shutdown.
func (m *Meter) Checkpoint(ctx context.Context, rdb *redis.Client, key string, logger *zap.Logger) error {
	m.mu.RLock()
	snapshot := make(map[string]*agentQuota, len(m.agents))
	for id, q := range m.agents {
		snapshot[id] = q
	}
	m.mu.RUnlock()

	pipe := rdb.Pipeline()
	pipe.Del(ctx, key)
	count := 0
	for id, q := range snapshot {
		q.mu.Lock()
		q.prune(m.now(), m.windowSize)
		if q.sealed || len(q.window) == 0 {
			q.mu.Unlock()
			continue
		}
		entry := checkpointEntry{Samples: make([]checkpointSample, 0, len(q.window))}
		for _, s := range q.window {
			entry.Samples = append(entry.Samples, checkpointSample{At: s.at, N: s.n})
		}
		q.mu.Unlock()

		raw, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		pipe.HSet(ctx, key, id, raw)
		count++
	}

	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("quota checkpoint failed", zap.Error(err))
		return err
	}
	logger.Debug("quota checkpoint written", zap.Int("agents", count))
	return nil
}

// Restore подмешивает сохраненные окна к уже зарегистрированным
// агентам. Неизвестные агенты пропускаются: реестр после рестарта
// пуст, их окна никому не нужны.
func (m *Meter) Restore(ctx context.Context, rdb *redis.Client, key string, logger *zap.Logger) error {
	data, err := rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return err
	}

	restored := 0
	for id, raw := range data {
		q, err := m.lookup(id)
		if err != nil {
			continue
		}
		var entry checkpointEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			logger.Warn("skipping corrupt quota checkpoint entry", zap.String("agent_id", id), zap.Error(err))
			continue
		}

		q.mu.Lock()
		for _, s := range entry.Samples {
			q.window = append(q.window, tokenSample{at: s.At, n: s.N})
			q.sum += s.N
		}
		q.prune(m.now(), m.windowSize)
		q.mu.Unlock()
		restored++
	}

	if restored > 0 {
		logger.Info("quota state restored from checkpoint", zap.Int("agents", restored))
	}
	return nil
}
