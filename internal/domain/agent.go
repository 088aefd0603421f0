package domain

import (
	"errors"
	"fmt"
	"time"
)

// AgentState описывает фазу жизненного цикла агента в ядре.
type AgentState string

const (
	StateSpawning AgentState = "spawning" // Манифест принят, запись создается
	StateRunning  AgentState = "running"  // Полный доступ к тулам (в рамках capabilities)
	StatePaused   AgentState = "paused"   // Временная заморозка (оператором или триггером)
	StateKilled   AgentState = "killed"   // Терминальное состояние, ID никогда не переиспользуется
	StateErrored  AgentState = "errored"  // Сбой; допускает восстановление в running
)

var ErrInvalidTransition = errors.New("invalid agent state transition")

// stateGraph — разрешенные переходы конечного автомата.
// Killed терминален: из него нет выхода ни при каких условиях.
var stateGraph = map[AgentState][]AgentState{
	StateSpawning: {StateRunning, StateErrored, StateKilled},
	StateRunning:  {StatePaused, StateErrored, StateKilled},
	StatePaused:   {StateRunning, StateKilled},
	StateErrored:  {StateRunning, StateKilled},
	StateKilled:   {},
}

// CanTransitionTo проверяет правила конечного автомата.
func (s AgentState) CanTransitionTo(next AgentState) error {
	for _, allowed := range stateGraph[s] {
		if allowed == next {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, next)
}

// Terminal сообщает, является ли состояние конечным.
func (s AgentState) Terminal() bool {
	return s == StateKilled
}

// AgentEntry — запись живого агента в арене реестра.
// Связи parent/children хранятся как ID, а не указатели: владельцем
// времени жизни является реестр, и убийство родителя никогда не
// оставляет висячих ссылок — ребенок просто держит ID, который может
// разрешиться в NotFound.
type AgentEntry struct {
	ID       string        `json:"id"` // UUID, назначается при spawn
	Name     string        `json:"name"`
	Manifest AgentManifest `json:"manifest"`
	State    AgentState    `json:"state"`

	Parent   string   `json:"parent,omitempty"` // Пустая строка = корневой агент
	Children []string `json:"children,omitempty"`

	// Метаданные для Observability
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Clone возвращает глубокую копию записи.
// Реестр отдает наружу только копии, чтобы читатель не мог
// мутировать состояние в обход мьютекса.
func (e *AgentEntry) Clone() *AgentEntry {
	cp := *e
	cp.Children = append([]string(nil), e.Children...)
	cp.Manifest = e.Manifest.Clone()
	return &cp
}
