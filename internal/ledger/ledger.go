package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrHalted — леджер остановил прием мутаций. Неаудированное изменение
// состояния хуже падения: после сбоя персистентности дальнейшие
// мутации не принимаются, пока оператор не подтвердит здоровье цепочки.
var ErrHalted = errors.New("ledger: halted, mutations are not accepted")

// ChainBrokenError — фатальный сигнал: вмешательство в историю либо
// баг слоя хранения. Наружу уходит позиция первого разрыва; авто-ремонт
// не предусмотрен.
type ChainBrokenError struct {
	AtSequence uint64
}

func (e *ChainBrokenError) Error() string {
	return fmt.Sprintf("ledger: chain broken at sequence %d", e.AtSequence)
}

// Filter ограничивает выборку Query. Нулевые значения = без фильтра.
type Filter struct {
	Action   Action
	AgentID  string
	SinceSeq uint64 // Включительно
	Limit    int    // 0 = без лимита
}

// Ledger — append-only хэш-цепочка аудита. Вся глобальная
// последовательная природа цепочки изолирована здесь: единственная
// точка мутации за одним мьютексом, остальная система внутренностей
// цепочки не видит.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
	tip     string // Хэш последней записи, "" для пустой цепочки
	halted  bool

	sink   *Writer // Опциональный асинхронный слив в долговременное хранилище
	logger *zap.Logger
	now    func() time.Time
}

func New(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger: logger.Named("ledger"),
		now:    time.Now,
	}
}

// AttachSink подключает фоновый писатель в долговременное хранилище.
// Сбой слива переводит леджер в halted через коллбек писателя.
func (l *Ledger) AttachSink(w *Writer) {
	l.sink = w
	w.onFailure = l.Halt
}

// Append — единственная точка мутации цепочки. Вычисляет tip от
// предыдущей записи, присваивает плотный sequence и сохраняет запись.
// Порядок и плотность номеров гарантированы мьютексом: пропусков и
// перестановок не бывает.
//
// Detail обязан быть заранее санитизирован вызывающим: леджер ничего
// не редактирует и не редактирует задним числом.
func (l *Ledger) Append(action Action, agentID, detail string) (Entry, error) {
	l.mu.Lock()
	if l.halted {
		l.mu.Unlock()
		return Entry{}, ErrHalted
	}

	e := Entry{
		Sequence:  uint64(len(l.entries)),
		Timestamp: l.now(),
		Action:    action,
		AgentID:   agentID,
		Detail:    detail,
	}
	e.TipHash = computeTip(l.tip, &e)

	l.entries = append(l.entries, e)
	l.tip = e.TipHash
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Enqueue(e)
	}
	return e, nil
}

// VerifyChain пересчитывает каждый tip с нулевой записи и сравнивает
// с сохраненным. Первый же разрыв репортится с номером. Пустая цепочка
// валидна тривиально.
func (l *Ledger) VerifyChain() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	for i := range l.entries {
		e := l.entries[i]
		if e.Sequence != uint64(i) {
			return &ChainBrokenError{AtSequence: uint64(i)}
		}
		if computeTip(prev, &e) != e.TipHash {
			return &ChainBrokenError{AtSequence: e.Sequence}
		}
		prev = e.TipHash
	}
	return nil
}

// Query возвращает записи по фильтру, упорядоченные по sequence по
// возрастанию. Результат — копия: перезапуск выборки с того же фильтра
// дает тот же префикс.
func (l *Ledger) Query(f Filter) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Entry, 0)
	for i := range l.entries {
		e := l.entries[i]
		if e.Sequence < f.SinceSeq {
			continue
		}
		if f.Action != "" && e.Action != f.Action {
			continue
		}
		if f.AgentID != "" && e.AgentID != f.AgentID {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

// Len — текущая длина цепочки.
func (l *Ledger) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries))
}

// Tip — хэш хвоста цепочки (для дашборда и внешних верификаторов).
func (l *Ledger) Tip() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tip
}

// Halt защелкивает отказ: дальнейшие Append отклоняются до ручного
// вмешательства оператора. Снятия защелки в рантайме нет намеренно.
func (l *Ledger) Halt() {
	l.mu.Lock()
	if !l.halted {
		l.halted = true
		l.logger.Error("ledger halted: audit persistence failed, mutations frozen")
	}
	l.mu.Unlock()
}

// Halted сообщает, остановлен ли прием мутаций.
func (l *Ledger) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Restore загружает цепочку из долговременного хранилища при старте.
// Перед принятием хвоста цепочка перепроверяется целиком: грузить
// битую историю и строить поверх нее новые записи недопустимо.
func (l *Ledger) Restore(entries []Entry) error {
	prev := ""
	for i := range entries {
		e := entries[i]
		if e.Sequence != uint64(i) {
			return &ChainBrokenError{AtSequence: uint64(i)}
		}
		if computeTip(prev, &e) != e.TipHash {
			return &ChainBrokenError{AtSequence: e.Sequence}
		}
		prev = e.TipHash
	}

	l.mu.Lock()
	l.entries = append([]Entry(nil), entries...)
	l.tip = prev
	l.mu.Unlock()

	l.logger.Info("ledger restored", zap.Int("entries", len(entries)))
	return nil
}
