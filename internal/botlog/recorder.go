package botlog

/*
Файл recorder.go реализует асинхронный сборщик журналов ошибок ботов.

Требования те же, что у любого hot-path логирования:
- Non-blocking: наблюдатели stderr не должны ждать Postgres. Запись уходит
  в буферизованный канал, при переполнении срабатывает Load Shedding.
- Batching: накопление записей и пакетная вставка по таймеру или
  при достижении лимита (100 записей).
- Drain Pattern: при остановке канал запирается, воркер вычитывает
  остатки и делает финальный flush. Потерь на graceful shutdown нет.
*/

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются записи
type StorageInterface interface {
	// WriteBatch сохраняет пачку записей за один раз
	WriteBatch(ctx context.Context, entries []Entry) error
}

type Recorder struct {
	ch     chan Entry
	repo   StorageInterface
	logger *zap.Logger
	wg     sync.WaitGroup

	flushEvery time.Duration
	// Атомарный флаг (0 - открыт, 1 - закрыт): защита от Record после Stop
	isClosed int32
}

func NewRecorder(repo StorageInterface, bufferSize int, flushEvery time.Duration, logger *zap.Logger) *Recorder {
	if bufferSize <= 0 {
		bufferSize = 10000
	}
	if flushEvery <= 0 {
		flushEvery = 500 * time.Millisecond
	}
	return &Recorder{
		ch:         make(chan Entry, bufferSize),
		repo:       repo,
		logger:     logger.With(zap.String("mod", "botlog")),
		flushEvery: flushEvery,
	}
}

func (r *Recorder) Start() {
	r.wg.Add(1)
	go r.worker()
}

// Stop «запирает» вход в канал и ждет, пока воркер всё допишет.
func (r *Recorder) Stop() {
	atomic.StoreInt32(&r.isClosed, 1)

	// Даем крошечную паузу, чтобы текущие Record успели проскочить
	time.Sleep(10 * time.Millisecond)

	r.logger.Info("stopping recorder: closing channel and flushing buffer...")
	close(r.ch)
	r.wg.Wait()
	r.logger.Info("recorder stopped gracefully")
}

func (r *Recorder) Record(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	if atomic.LoadInt32(&r.isClosed) == 1 {
		r.logger.Warn("log entry dropped: recorder is stopping", zap.String("bot_id", entry.BotID))
		return
	}

	// Load Shedding: журнал ошибок вторичен относительно живости ботов,
	// при переполнении запись теряется с отметкой в системном логе
	select {
	case r.ch <- entry:
	default:
		r.logger.Error("botlog_buffer_overflow", zap.String("bot_id", entry.BotID))
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]Entry, 0, 100)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()

	flush := func() {
		if len(batch) > 0 {
			// Background: основной контекст на shutdown уже может быть закрыт
			if err := r.repo.WriteBatch(context.Background(), batch); err != nil {
				r.logger.Error("botlog flush failed", zap.Error(err))
			}
			batch = batch[:0]
		}
	}

	for {
		select {
		case entry, ok := <-r.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный сброс
				flush()
				r.logger.Info("botlog worker finished")
				return
			}
			batch = append(batch, entry)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
