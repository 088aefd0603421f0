package registry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xela07ax/agentos-kernel-prototype/internal/domain"
	"go.uber.org/zap"
)

var (
	// ErrNotFound — агент неизвестен либо уже убит. Убитый ID никогда
	// не переиспользуется, поэтому повторные операции против него
	// стабильно получают NotFound, а не панику.
	ErrNotFound = errors.New("registry: agent not found")

	// ErrParentNotFound — spawn ссылается на родителя, которого нет в
	// живом множестве.
	ErrParentNotFound = errors.New("registry: parent agent not found")
)

// Registry — владелец множества живых агентов. Арена id -> запись плюс
// явные parent/children-поля вместо владеющих указателей: убийство
// родителя не может оставить висячую ссылку у ребенка.
//
// Все мутации атомарны относительно конкурентных Get/List: читатель
// никогда не видит полусконструированную запись — наружу уходят только
// копии, собранные под мьютексом.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.AgentEntry
	logger *zap.Logger
	now    func() time.Time
}

func New(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]*domain.AgentEntry),
		logger: logger.Named("registry"),
		now:    time.Now,
	}
}

// Spawn аллоцирует свежий AgentId, вставляет запись в состоянии
// spawning, линкует под родителя и переводит в running. Манифест
// обязан быть уже проверен верификатором — реестр ему доверяет.
func (r *Registry) Spawn(m domain.AgentManifest, parent string) (*domain.AgentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if parent != "" {
		p, ok := r.agents[parent]
		if !ok || p.State == domain.StateKilled {
			return nil, ErrParentNotFound
		}
	}

	now := r.now()
	entry := &domain.AgentEntry{
		ID:         uuid.New().String(),
		Name:       m.Name,
		Manifest:   m.Clone(),
		State:      domain.StateSpawning,
		Parent:     parent,
		CreatedAt:  now,
		LastActive: now,
	}

	// Первый тик планирования завершается здесь же, под тем же локом:
	// снаружи агент виден сразу running, spawning не наблюдаем.
	entry.State = domain.StateRunning

	r.agents[entry.ID] = entry
	if parent != "" {
		p := r.agents[parent]
		p.Children = append(p.Children, entry.ID)
	}

	r.logger.Info("agent spawned",
		zap.String("agent_id", entry.ID),
		zap.String("name", entry.Name),
		zap.String("parent", parent))
	return entry.Clone(), nil
}

// Kill переводит агента в терминальное killed и осиротляет детей:
// их parent обнуляется, сами они продолжают жить. Повторный kill
// уже убитого возвращает ErrNotFound — идемпотентность без паник
// и без двойного освобождения квот.
func (r *Registry) Kill(id string) (*domain.AgentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[id]
	if !ok || entry.State == domain.StateKilled {
		return nil, ErrNotFound
	}
	if err := entry.State.CanTransitionTo(domain.StateKilled); err != nil {
		return nil, err
	}

	entry.State = domain.StateKilled
	entry.LastActive = r.now()

	for _, childID := range entry.Children {
		if child, ok := r.agents[childID]; ok {
			child.Parent = ""
		}
	}

	// Запись уходит из живого множества, но не из истории аудита.
	delete(r.agents, id)

	r.logger.Info("agent killed",
		zap.String("agent_id", id),
		zap.Int("orphaned_children", len(entry.Children)))
	return entry.Clone(), nil
}

// Transition выполняет обычный (не-kill) переход состояния:
// pause/resume/восстановление из errored.
func (r *Registry) Transition(id string, next domain.AgentState) (*domain.AgentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	if err := entry.State.CanTransitionTo(next); err != nil {
		return nil, err
	}

	entry.State = next
	entry.LastActive = r.now()
	r.logger.Info("agent state changed",
		zap.String("agent_id", id),
		zap.String("state", string(next)))
	return entry.Clone(), nil
}

// ReplaceManifest — явная аудируемая операция обновления capabilities.
// Единственный легальный способ сменить разрешения без re-spawn.
func (r *Registry) ReplaceManifest(id string, m domain.AgentManifest) (*domain.AgentEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[id]
	if !ok {
		return nil, ErrNotFound
	}
	entry.Manifest = m.Clone()
	entry.Name = m.Name
	entry.LastActive = r.now()
	return entry.Clone(), nil
}

// Touch обновляет таймстемп активности (вызов тула, сообщение).
func (r *Registry) Touch(id string) {
	r.mu.Lock()
	if entry, ok := r.agents[id]; ok {
		entry.LastActive = r.now()
	}
	r.mu.Unlock()
}

// Get возвращает копию записи живого агента.
func (r *Registry) Get(id string) (*domain.AgentEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return entry.Clone(), true
}

// List возвращает копии всех живых агентов, стабильно отсортированные
// по времени создания. Пустой реестр отдает пустой срез, не nil.
func (r *Registry) List() []*domain.AgentEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.AgentEntry, 0, len(r.agents))
	for _, entry := range r.agents {
		out = append(out, entry.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count — размер живого множества.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
