package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/xela07ax/neurohost/internal/domain"
)

// ReliableBackend оборачивает бэкенд предохранителем, лимитером и
// ретраями. Нужен для контейнерного варианта: docker-демон — внешняя
// зависимость, которая умеет зависать и отваливаться целиком.
//
// Ретраим только идемпотентные операции (Stats, Stop). Launch не
// ретраится: повторный create после таймаута может оставить сироту.
type ReliableBackend struct {
	next    ExecutionBackend
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliableBackend(next ExecutionBackend) *ReliableBackend {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "execution-backend",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // время, через которое CB попробует "закрыться"
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	// Запас с потолком: enforcement-цикл опрашивает весь парк разом
	limiter := rate.NewLimiter(rate.Limit(100), 20)

	return &ReliableBackend{
		next:    next,
		cb:      cb,
		limiter: limiter,
	}
}

func (w *ReliableBackend) Launch(ctx context.Context, spec LaunchSpec) (*Unit, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	res, err := w.cb.Execute(func() (interface{}, error) {
		return w.next.Launch(ctx, spec)
	})
	if err != nil {
		return nil, w.mapError(err)
	}
	return res.(*Unit), nil
}

func (w *ReliableBackend) Stop(ctx context.Context, unit *Unit, timeout time.Duration) (bool, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit exceeded: %w", err)
	}

	res, err := w.cb.Execute(func() (interface{}, error) {
		var stopped bool
		retryErr := w.retryer(ctx).Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, timeout+10*time.Second)
			defer cancel()

			var callErr error
			stopped, callErr = w.next.Stop(tCtx, unit, timeout)
			return callErr
		})
		return stopped, retryErr
	})
	if err != nil {
		return false, w.mapError(err)
	}
	return res.(bool), nil
}

func (w *ReliableBackend) Stats(ctx context.Context, unit *Unit) (Stats, error) {
	if err := w.limiter.Wait(ctx); err != nil {
		return Stats{}, fmt.Errorf("rate limit exceeded: %w", err)
	}

	res, err := w.cb.Execute(func() (interface{}, error) {
		var stats Stats
		retryErr := w.retryer(ctx).Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			var callErr error
			stats, callErr = w.next.Stats(tCtx, unit)
			return callErr
		})
		return stats, retryErr
	})
	if err != nil {
		return Stats{}, w.mapError(err)
	}
	return res.(Stats), nil
}

func (w *ReliableBackend) retryer(ctx context.Context) *retry.Retrier {
	return retry.New(
		retry.Context(ctx),
		retry.Attempts(3),
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Доменные ошибки ретраить бессмысленно, бэкофф только
			// для транспортных сбоев
			return retry.BackOffDelay(n, err, config)
		}),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, ErrUnavailable)
		}),
	)
}

// mapError переводит "предохранитель открыт" в доменную ошибку, чтобы
// оркестратор мог отличить деградацию бэкенда от ошибки конкретного бота.
func (w *ReliableBackend) mapError(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit breaker open", domain.ErrBackendUnavailable)
	}
	return err
}
