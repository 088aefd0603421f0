package quota

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
)

// DefaultWindow — скользящее окно учета токенов.
const DefaultWindow = time.Hour

var ErrUnknownAgent = errors.New("quota: unknown agent")

// ExceededError — ожидаемый, retryable отказ: окно освободится или
// слот вернется. Всегда аудируется вызывающим.
type ExceededError struct {
	AgentID  string
	Resource string // "llm_tokens" | "tool_slots"
	Limit    uint64
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: agent %s hit %s limit (%d)", e.AgentID, e.Resource, e.Limit)
}

// tokenSample — одно списание токенов внутри окна.
type tokenSample struct {
	at time.Time
	n  uint64
}

// agentQuota — состояние одного агента. У каждого агента свой мьютекс:
// несвязанные агенты никогда не контендятся между собой.
type agentQuota struct {
	mu       sync.Mutex
	limits   domain.ResourceLimits
	window   []tokenSample // Упорядочено по времени, старое спереди
	sum      uint64        // Инвариант: сумма по window
	inflight uint32
	sealed   bool // Агент убит: новые захваты отклоняются мгновенно
}

// Meter — ResourceQuotaMeter: токены по скользящему часу плюс счетчик
// одновременных тулов, все строго per-agent. Никакого заимствования
// между агентами, даже parent/child.
type Meter struct {
	mu     sync.RWMutex
	agents map[string]*agentQuota

	windowSize time.Duration
	now        func() time.Time // Подменяется в тестах
}

func NewMeter(window time.Duration) *Meter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Meter{
		agents:     make(map[string]*agentQuota),
		windowSize: window,
		now:        time.Now,
	}
}

// Register заводит состояние квот для нового агента.
// Вызывается реестром на spawn; повторная регистрация перетирает лимиты,
// но сохраняет накопленное окно (аудируемое обновление манифеста).
func (m *Meter) Register(agentID string, limits domain.ResourceLimits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.agents[agentID]; ok {
		q.mu.Lock()
		q.limits = limits
		q.mu.Unlock()
		return
	}
	m.agents[agentID] = &agentQuota{limits: limits}
}

// Seal запечатывает квоты убитого агента: все новые TryConsumeTokens и
// TryAcquireToolSlot отклоняются, уже выданные Acquisition продолжают
// корректно освобождаться. Идемпотентно.
func (m *Meter) Seal(agentID string) {
	m.mu.RLock()
	q, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	q.mu.Lock()
	q.sealed = true
	q.window = nil
	q.sum = 0
	q.mu.Unlock()
}

// TryConsumeTokens допускает списание, если сумма окна + n не превышает
// часовой лимит. Перед проверкой окно подрезается: все, что старше
// windowSize, больше не считается.
func (m *Meter) TryConsumeTokens(agentID string, n uint64) error {
	q, err := m.lookup(agentID)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return ErrUnknownAgent
	}

	q.prune(m.now(), m.windowSize)
	if q.sum+n > q.limits.MaxLLMTokensPerHour {
		return &ExceededError{AgentID: agentID, Resource: "llm_tokens", Limit: q.limits.MaxLLMTokensPerHour}
	}

	q.window = append(q.window, tokenSample{at: m.now(), n: n})
	q.sum += n
	return nil
}

// WindowUsage возвращает текущую сумму окна (для дашборда/чекпоинта).
func (m *Meter) WindowUsage(agentID string) uint64 {
	q, err := m.lookup(agentID)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.prune(m.now(), m.windowSize)
	return q.sum
}

// TryAcquireToolSlot выдает scoped-захват слота конкурентности.
// Release гарантированно вернет слот на любом пути выхода: defer у
// вызывающего срабатывает и на ошибке, и на панике, и на отмене.
func (m *Meter) TryAcquireToolSlot(agentID string) (*Acquisition, error) {
	q, err := m.lookup(agentID)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sealed {
		return nil, ErrUnknownAgent
	}
	if q.inflight >= q.limits.MaxConcurrentTools {
		return nil, &ExceededError{AgentID: agentID, Resource: "tool_slots", Limit: uint64(q.limits.MaxConcurrentTools)}
	}

	q.inflight++
	return &Acquisition{q: q}, nil
}

// InFlight — текущее число занятых слотов агента.
func (m *Meter) InFlight(agentID string) uint32 {
	q, err := m.lookup(agentID)
	if err != nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inflight
}

func (m *Meter) lookup(agentID string) (*agentQuota, error) {
	m.mu.RLock()
	q, ok := m.agents[agentID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownAgent
	}
	return q, nil
}

// prune выкидывает из окна все, что состарилось. Вызывается под q.mu.
func (q *agentQuota) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(q.window) && q.window[i].at.Before(cutoff) {
		q.sum -= q.window[i].n
		i++
	}
	if i > 0 {
		q.window = append(q.window[:0], q.window[i:]...)
	}
}

// Acquisition — scoped-захват слота. Release идемпотентен: двойной
// вызов не уведет счетчик в минус.
type Acquisition struct {
	q    *agentQuota
	once sync.Once
}

func (a *Acquisition) Release() {
	a.once.Do(func() {
		a.q.mu.Lock()
		if a.q.inflight > 0 {
			a.q.inflight--
		}
		a.q.mu.Unlock()
	})
}
