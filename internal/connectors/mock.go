package connectors

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// MockToolExecutor — драйвер-заглушка для локальной разработки и
// интеграционных прогонов без реального execution-слоя. Имитирует
// задержку и типовые ответы тулов; семантики тулов в нем нет.
type MockToolExecutor struct{}

func (c *MockToolExecutor) Call(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	// Имитируем задержку 50-300мс
	latency := time.Duration(50+rand.Intn(250)) * time.Millisecond

	select {
	case <-time.After(latency):
		// Имитация работы
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch tool {
	case "web_fetch":
		return []byte(`{"status": 200, "body_bytes": 18244}`), nil
	case "shell_exec":
		return []byte(`{"exit_code": 0, "stdout_bytes": 512}`), nil
	case "memory.search":
		return []byte(`{"hits": 3}`), nil
	case "agent.prompt":
		return []byte(`{"status": "queued"}`), nil
	case "unstable.service":
		return nil, fmt.Errorf("service internal error")
	default:
		return nil, fmt.Errorf("tool %s not supported by executor", tool)
	}
}
