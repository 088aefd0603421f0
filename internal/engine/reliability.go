package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/agentos-kernel-prototype/internal/connectors"
	"golang.org/x/time/rate"
)

// ReliabilityWrapper оборачивает внешний драйвер исполнения в
// rate limiter + circuit breaker + retry. Ядро видит только итоговый
// исход; все промежуточные попытки — внутренняя кухня обертки.
type ReliabilityWrapper struct {
	next    ExecutionProvider
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(next ExecutionProvider) *ReliabilityWrapper {
	// Настройка предохранителя
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "kernel-executor",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Если более 5 ошибок подряд — открываемся (блокируем трафик)
			return counts.ConsecutiveFailures > 5
		},
	})

	// Лимитер защищает внешний драйвер, а не агентов: квоты агентов
	// уже отработали выше по пайплайну
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliabilityWrapper{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (w *ReliabilityWrapper) Call(ctx context.Context, tool string, payload []byte) ([]byte, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	var finalData []byte

	// 2. Circuit Breaker
	cbResult, err := w.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			// Умный расчет задержки
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				// Если драйвер вернул ThrottleError (считал Retry-After заголовок)
				var tErr *connectors.ThrottleError
				if errors.As(err, &tErr) {
					return tErr.RetryAfter
				}

				// В остальных случаях (сетевой лаг, 500-ка) — стандартный экспоненциальный бэкофф
				return retry.BackOffDelay(n, err, config)
			}),
		)

		retryErr := r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			finalData, callErr = w.next.Call(tCtx, tool, payload)
			return callErr
		})

		return finalData, retryErr
	})

	if err != nil {
		return nil, err
	}

	return cbResult.([]byte), nil
}
