// Package backend абстрагирует запуск изолированных юнитов исполнения.
// Оркестратор никогда не ветвится по типу бэкенда: обе стратегии
// (процесс и контейнер) стоят за одним интерфейсом.
package backend

import (
	"context"
	"errors"
	"time"
)

// Классификация отказов запуска. Оркестратор оборачивает их в
// domain.LaunchError, не теряя причину.
var (
	ErrImageMissing  = errors.New("backend: image missing")
	ErrResourceLimit = errors.New("backend: resource limit exceeded")
	ErrLaunchIO      = errors.New("backend: launch io error")
	ErrUnavailable   = errors.New("backend: daemon unreachable")
)

// Unit — живой хендл юнита. Существует только в памяти оркестратора
// и никогда не персистится между перезапусками control plane.
type Unit struct {
	BotID       string
	PID         int    // только для процессного варианта
	ContainerID string // только для контейнерного варианта
	StartedAt   time.Time
	StderrPath  string // откуда LogWatcher читает поток ошибок
}

// Stats — одна выборка потребления. Для мёртвого юнита возвращаются
// нули и код выхода; отсутствие pid/контейнера — не ошибка.
type Stats struct {
	CPUPercent float64
	MemoryMB   float64
	Alive      bool
	ExitCode   int // валиден только при Alive == false
}

// LaunchSpec — всё, что нужно для запуска: код, входная точка и
// расшифрованный токен (живёт только в памяти на время вызова).
type LaunchSpec struct {
	BotID            string
	CodeDir          string
	Entrypoint       string
	Token            string
	RemainingSeconds int64 // для контейнерного deadline-бэкстопа
}

// ExecutionBackend запускает, останавливает и опрашивает юниты.
// Stop обязан гарантировать фактическое завершение (graceful, затем
// принудительно) и вернуть true, если что-то действительно работало.
type ExecutionBackend interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Unit, error)
	Stop(ctx context.Context, unit *Unit, timeout time.Duration) (bool, error)
	Stats(ctx context.Context, unit *Unit) (Stats, error)
}
