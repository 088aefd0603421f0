package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Store определяет, куда физически сливается цепочка.
type Store interface {
	// WriteBatch сохраняет пачку записей за один раз.
	WriteBatch(ctx context.Context, entries []Entry) error
	// LoadAll читает всю цепочку по возрастанию sequence.
	LoadAll(ctx context.Context) ([]Entry, error)
}

// Writer — неблокирующий батч-писатель цепочки в долговременное
// хранилище. Авторитетная копия живет в памяти леджера; писатель
// отвечает только за durability, поэтому его задержки не трогают
// горячий путь Append.
//
// Отличие от обычного лог-шиппера: потеря здесь недопустима. Переполнение
// буфера или сбой flush'а дергают onFailure, и леджер замораживает
// прием мутаций — дырявая персистентная цепочка на рестарте не пройдет
// верификацию, лучше остановиться сразу.
type Writer struct {
	ch       chan Entry
	store    Store
	logger   *zap.Logger
	wg       sync.WaitGroup
	isClosed int32 // Атомарный флаг (0 - открыт, 1 - закрыт)

	batchSize     int
	flushInterval time.Duration
	onFailure     func() // Выставляется леджером через AttachSink
}

func NewWriter(store Store, bufferSize, batchSize int, flushInterval time.Duration, logger *zap.Logger) *Writer {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 500 * time.Millisecond
	}
	return &Writer{
		ch:            make(chan Entry, bufferSize),
		store:         store,
		logger:        logger.Named("ledger-writer"),
		batchSize:     batchSize,
		flushInterval: flushInterval,
		onFailure:     func() {},
	}
}

func (w *Writer) Start() {
	w.wg.Add(1)
	go w.worker()
}

// Stop «запирает» вход и ждет, пока воркер допишет остатки буфера
// (Drain Pattern). Завершение воркера происходит исключительно через
// закрытие входного канала.
func (w *Writer) Stop() {
	atomic.StoreInt32(&w.isClosed, 1)
	time.Sleep(10 * time.Millisecond)

	w.logger.Info("stopping ledger writer: closing channel and flushing buffer...")
	close(w.ch)
	w.wg.Wait()
	w.logger.Info("ledger writer stopped gracefully")
}

// Enqueue ставит запись в очередь на персист. Переполнение буфера —
// это не нагрузка, которую можно сбросить: это будущая дыра в
// персистентной цепочке, поэтому фиксируем отказ.
func (w *Writer) Enqueue(e Entry) {
	if atomic.LoadInt32(&w.isClosed) == 1 {
		w.logger.Warn("ledger entry not persisted: writer is stopping", zap.Uint64("sequence", e.Sequence))
		return
	}

	select {
	case w.ch <- e:
	default:
		w.logger.Error("ledger_buffer_overflow",
			zap.Uint64("sequence", e.Sequence),
			zap.String("agent_id", e.AgentID))
		w.onFailure()
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()

	batch := make([]Entry, 0, w.batchSize)
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush'а
		// может быть уже закрыт
		if err := w.store.WriteBatch(context.Background(), batch); err != nil {
			w.logger.Error("ledger flush failed", zap.Error(err))
			w.onFailure()
		}
		batch = batch[:0]
	}

	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				flush() // Финальный сброс
				w.logger.Info("ledger writer worker finished")
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
