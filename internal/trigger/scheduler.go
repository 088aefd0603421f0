package trigger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"github.com/xela07ax/agentos-kernel-prototype/internal/ledger"
	"go.uber.org/zap"
)

var ErrNotFound = errors.New("trigger: not found")

// registered — определение триггера плюс его скомпилированный паттерн.
type registered struct {
	def     domain.TriggerDefinition
	pattern *compiledPattern
}

// Scheduler матчит входящие события против зарегистрированных
// триггеров и эмитит FiredAction'ы. Сам он ничего не исполняет и
// авторизацию не обходит: каждое действие при исполнении проходит
// CapabilityGuard и квоты на общих основаниях.
//
// «Fire-and-audit» — одна атомарная единица: инкремент fire_count и
// запись в леджер происходят под одним мьютексом, двойного
// срабатывания под конкурентными событиями не бывает.
type Scheduler struct {
	mu       sync.Mutex
	triggers map[string]*registered

	ldg    *ledger.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func NewScheduler(ldg *ledger.Ledger, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		triggers: make(map[string]*registered),
		ldg:      ldg,
		logger:   logger.Named("trigger"),
		now:      time.Now,
	}
}

// Register компилирует паттерн и ставит триггер на дежурство.
// Ошибка компиляции репортится синхронно; в рантайм битый паттерн
// не попадает.
func (s *Scheduler) Register(def domain.TriggerDefinition) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	p, err := compile(def.Kind, def.Param, now)
	if err != nil {
		return "", err
	}

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, exists := s.triggers[def.ID]; exists {
		return "", fmt.Errorf("trigger: id %s already registered", def.ID)
	}
	def.CreatedAt = now
	def.FireCount = 0

	s.triggers[def.ID] = &registered{def: def, pattern: p}
	s.logger.Info("trigger registered",
		zap.String("trigger_id", def.ID),
		zap.String("agent_id", def.AgentID),
		zap.String("kind", string(def.Kind)))
	return def.ID, nil
}

// Unregister снимает триггер с дежурства.
func (s *Scheduler) Unregister(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.triggers[id]; !ok {
		return ErrNotFound
	}
	delete(s.triggers, id)
	s.logger.Info("trigger unregistered", zap.String("trigger_id", id))
	return nil
}

// SetEnabled включает/выключает триггер без перекомпиляции.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.triggers[id]
	if !ok {
		return ErrNotFound
	}
	reg.def.Enabled = enabled
	return nil
}

// Get возвращает копию определения.
func (s *Scheduler) Get(id string) (domain.TriggerDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.triggers[id]
	if !ok {
		return domain.TriggerDefinition{}, ErrNotFound
	}
	return reg.def, nil
}

// List возвращает копии всех определений, отсортированные по созданию.
func (s *Scheduler) List() []domain.TriggerDefinition {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.TriggerDefinition, 0, len(s.triggers))
	for _, reg := range s.triggers {
		out = append(out, reg.def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// OnEvent прогоняет событие через все дежурные триггеры. Срабатывает
// каждый включенный триггер, чей паттерн совпал и чей fire_count еще
// не уперся в max_fires (0 = безлимит).
//
// Compare-and-increment счетчика и запись аудита — одна транзакция:
// если леджер остановлен, счетчик откатывается и действие не эмитится.
func (s *Scheduler) OnEvent(ev domain.Event) []domain.FiredAction {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var fired []domain.FiredAction
	for _, reg := range s.triggers {
		if !reg.def.Enabled {
			continue
		}
		if reg.def.MaxFires > 0 && reg.def.FireCount >= reg.def.MaxFires {
			continue
		}
		if !s.safeMatch(reg, ev) {
			continue
		}

		reg.def.FireCount++
		detail := fmt.Sprintf("trigger=%s kind=%s fire=%d", reg.def.ID, reg.def.Kind, reg.def.FireCount)
		if _, err := s.ldg.Append(ledger.ActionTriggerFire, reg.def.AgentID, detail); err != nil {
			// Леджер заморожен: откатываем инкремент, действие не эмитим
			reg.def.FireCount--
			s.logger.Error("trigger fire not audited, action suppressed",
				zap.String("trigger_id", reg.def.ID), zap.Error(err))
			continue
		}

		fired = append(fired, domain.FiredAction{
			TriggerID: reg.def.ID,
			AgentID:   reg.def.AgentID,
			Prompt:    reg.def.Prompt,
			FiredAt:   ev.Timestamp,
		})
	}
	return fired
}

// Tick генерирует событие часов для Schedule-триггеров. Дергается
// из main с периодом kernel.scheduler_tick.
func (s *Scheduler) Tick() []domain.FiredAction {
	return s.OnEvent(domain.Event{Kind: domain.EventTick, Timestamp: s.now()})
}

// safeMatch изолирует матчинг: рантайм-ошибка паттерна логируется и
// трактуется как «не совпало», но никогда как срабатывание.
func (s *Scheduler) safeMatch(reg *registered, ev domain.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("pattern match panicked, treated as no-match",
				zap.String("trigger_id", reg.def.ID),
				zap.Any("panic", r))
			matched = false
		}
	}()
	return reg.pattern.matches(ev)
}
