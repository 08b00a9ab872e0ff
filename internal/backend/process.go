package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/xela07ax/neurohost/internal/infra"
)

// ProcessBackend запускает бота отдельным OS-процессом в собственной
// process group: SIGTERM/SIGKILL уходит всей группе, включая потомков.
type ProcessBackend struct {
	cfg    infra.BackendConfig
	logger *zap.Logger

	mu    sync.Mutex
	procs map[string]*runningProc
}

type runningProc struct {
	cmd      *exec.Cmd
	ps       *process.Process // кэшируем, чтобы Percent(0) мерил дельту между опросами
	done     chan struct{}
	exitCode int
}

func NewProcessBackend(cfg infra.BackendConfig, logger *zap.Logger) *ProcessBackend {
	return &ProcessBackend{
		cfg:    cfg,
		logger: logger.Named("backend-process"),
		procs:  make(map[string]*runningProc),
	}
}

func (b *ProcessBackend) Launch(ctx context.Context, spec LaunchSpec) (*Unit, error) {
	botDir := filepath.Join(b.cfg.BotsDir, spec.CodeDir)
	if _, err := os.Stat(filepath.Join(botDir, spec.Entrypoint)); err != nil {
		return nil, fmt.Errorf("%w: entrypoint %s: %v", ErrLaunchIO, spec.Entrypoint, err)
	}

	logsDir := filepath.Join(botDir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchIO, err)
	}

	stdout, err := os.OpenFile(filepath.Join(logsDir, "stdout.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchIO, err)
	}
	stderrPath := filepath.Join(logsDir, "stderr.log")
	stderr, err := os.OpenFile(stderrPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchIO, err)
	}

	cmd := exec.Command(b.cfg.Interpreter, spec.Entrypoint)
	cmd.Dir = botDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Env = append(os.Environ(),
		"BOT_TOKEN="+spec.Token,
		"BOT_ID="+spec.BotID,
		"PYTHONUNBUFFERED=1",
	)
	// Своя process group: стопим всё дерево потомков одним сигналом
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("%w: %v", ErrLaunchIO, err)
	}
	// Дескрипторы унаследованы ребёнком, родительские копии больше не нужны
	stdout.Close()
	stderr.Close()

	pid := cmd.Process.Pid
	ps, _ := process.NewProcess(int32(pid))

	rp := &runningProc{cmd: cmd, ps: ps, done: make(chan struct{})}
	b.mu.Lock()
	b.procs[spec.BotID] = rp
	b.mu.Unlock()

	// Reaper: без Wait процесс останется зомби
	go func() {
		err := cmd.Wait()
		if exitErr, ok := err.(*exec.ExitError); ok {
			rp.exitCode = exitErr.ExitCode()
		} else if err != nil {
			rp.exitCode = -1
		}
		close(rp.done)
	}()

	b.logger.Info("process launched",
		zap.String("bot_id", spec.BotID),
		zap.Int("pid", pid))

	return &Unit{
		BotID:      spec.BotID,
		PID:        pid,
		StartedAt:  time.Now().UTC(),
		StderrPath: stderrPath,
	}, nil
}

func (b *ProcessBackend) Stop(ctx context.Context, unit *Unit, timeout time.Duration) (bool, error) {
	b.mu.Lock()
	rp, ok := b.procs[unit.BotID]
	if ok {
		delete(b.procs, unit.BotID)
	}
	b.mu.Unlock()

	if !ok {
		// Чужой pid (например, после рестарта control plane): добиваем группу вслепую
		if err := unix.Kill(-unit.PID, unix.SIGTERM); err != nil {
			return false, nil // процесса уже нет
		}
		if !waitGroupExit(unit.PID, timeout) {
			_ = unix.Kill(-unit.PID, unix.SIGKILL)
		}
		return true, nil
	}

	select {
	case <-rp.done:
		return false, nil // уже завершился сам
	default:
	}

	// Graceful, потом принудительно всей группе
	_ = unix.Kill(-unit.PID, unix.SIGTERM)

	select {
	case <-rp.done:
		return true, nil
	case <-time.After(timeout):
		b.logger.Warn("process ignored SIGTERM, escalating",
			zap.String("bot_id", unit.BotID), zap.Int("pid", unit.PID))
		_ = unix.Kill(-unit.PID, unix.SIGKILL)
	case <-ctx.Done():
		_ = unix.Kill(-unit.PID, unix.SIGKILL)
	}

	<-rp.done
	return true, nil
}

// waitGroupExit опрашивает группу нулевым сигналом, пока она не исчезнет
// либо не истечёт срок. true — группы больше нет.
func waitGroupExit(pgid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if unix.Kill(-pgid, 0) != nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (b *ProcessBackend) Stats(ctx context.Context, unit *Unit) (Stats, error) {
	b.mu.Lock()
	rp, ok := b.procs[unit.BotID]
	b.mu.Unlock()

	if !ok {
		// Юнит нам не известен; отсутствие pid — не ошибка, просто нули
		if alive, _ := process.PidExists(int32(unit.PID)); alive {
			return Stats{Alive: true}, nil
		}
		return Stats{Alive: false, ExitCode: -1}, nil
	}

	select {
	case <-rp.done:
		return Stats{Alive: false, ExitCode: rp.exitCode}, nil
	default:
	}

	st := Stats{Alive: true}
	if rp.ps != nil {
		// Percent(0) считает загрузку с прошлого вызова — ровно период опроса
		if cpu, err := rp.ps.Percent(0); err == nil {
			st.CPUPercent = cpu
		}
		if mi, err := rp.ps.MemoryInfo(); err == nil && mi != nil {
			st.MemoryMB = float64(mi.RSS) / 1024.0 / 1024.0
		}
	}
	return st, nil
}
