package backend

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/infra"
)

// апи-версия достаточно старая, чтобы работать с любым живым демоном
const dockerAPIPrefix = "/v1.43"

// DockerBackend гоняет ботов в контейнерах с kernel-enforced лимитами.
// Общение с демоном — напрямую по Engine API через unix-сокет.
//
// Модель безопасности та же, что у процессного варианта, но жёстче:
// read-only rootfs, сброшенные capabilities, без сети, CPU-квота и
// потолок памяти на уровне ядра.
type DockerBackend struct {
	client *resty.Client
	cfg    infra.BackendConfig
	logger *zap.Logger

	mu        sync.Mutex
	backstops map[string]*time.Timer // дедлайн-страховка по remaining_seconds
}

func NewDockerBackend(cfg infra.BackendConfig, logger *zap.Logger) *DockerBackend {
	sockPath := strings.TrimPrefix(cfg.DockerHost, "unix://")

	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", sockPath)
		},
	}

	client := resty.New().
		SetTransport(transport).
		SetBaseURL("http://docker" + dockerAPIPrefix).
		SetTimeout(15 * time.Second)

	return &DockerBackend{
		client:    client,
		cfg:       cfg,
		logger:    logger.Named("backend-docker"),
		backstops: make(map[string]*time.Timer),
	}
}

type containerCreateRequest struct {
	Image      string            `json:"Image"`
	Env        []string          `json:"Env"`
	WorkingDir string            `json:"WorkingDir"`
	Cmd        []string          `json:"Cmd,omitempty"`
	Labels     map[string]string `json:"Labels"`
	HostConfig hostConfig        `json:"HostConfig"`
}

type hostConfig struct {
	Binds          []string          `json:"Binds"`
	NetworkMode    string            `json:"NetworkMode"`
	CapDrop        []string          `json:"CapDrop"`
	SecurityOpt    []string          `json:"SecurityOpt"`
	ReadonlyRootfs bool              `json:"ReadonlyRootfs"`
	Tmpfs          map[string]string `json:"Tmpfs"`
	Memory         int64             `json:"Memory"`
	MemorySwap     int64             `json:"MemorySwap"`
	NanoCPUs       int64             `json:"NanoCpus"`
	AutoRemove     bool              `json:"AutoRemove"`
}

type containerCreateResponse struct {
	ID string `json:"Id"`
}

func (b *DockerBackend) Launch(ctx context.Context, spec LaunchSpec) (*Unit, error) {
	name := "neurohost-bot-" + spec.BotID
	codeDir := filepath.Join(b.cfg.BotsDir, spec.CodeDir)

	req := containerCreateRequest{
		Image: b.cfg.Image,
		Env: []string{
			"BOT_TOKEN=" + spec.Token,
			"BOT_ID=" + spec.BotID,
			"PYTHONUNBUFFERED=1",
		},
		WorkingDir: "/app",
		Cmd:        []string{b.cfg.Interpreter, spec.Entrypoint},
		Labels:     map[string]string{"neurohost.bot_id": spec.BotID},
		HostConfig: hostConfig{
			Binds:          []string{codeDir + ":/app:ro"},
			NetworkMode:    "none",
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges:true"},
			ReadonlyRootfs: true,
			Tmpfs:          map[string]string{"/tmp": "size=100m,noexec,nodev,nosuid"},
			Memory:         b.cfg.MemoryLimitMB << 20,
			MemorySwap:     b.cfg.MemoryLimitMB << 20,
			NanoCPUs:       b.cfg.CPUMillicores * 1_000_000,
		},
	}

	var created containerCreateResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&created).
		SetQueryParam("name", name).
		Post("/containers/create")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	switch {
	case resp.StatusCode() == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrImageMissing, b.cfg.Image)
	case resp.StatusCode() == http.StatusConflict:
		// Осталось имя от прошлого запуска — убираем и не ретраим сами
		b.removeContainer(ctx, name)
		return nil, fmt.Errorf("%w: stale container %s removed, retry", ErrLaunchIO, name)
	case resp.IsError():
		return nil, fmt.Errorf("%w: create: %s", ErrLaunchIO, resp.String())
	}

	startResp, err := b.client.R().SetContext(ctx).Post("/containers/" + created.ID + "/start")
	if err != nil {
		b.removeContainer(ctx, created.ID)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if startResp.IsError() {
		b.removeContainer(ctx, created.ID)
		return nil, fmt.Errorf("%w: start: %s", ErrLaunchIO, startResp.String())
	}

	unit := &Unit{
		BotID:       spec.BotID,
		ContainerID: created.ID,
		StartedAt:   time.Now().UTC(),
	}

	// Страховочный дедлайн чуть длиннее остатка времени: даже если
	// enforcement-цикл умрёт, контейнер не переживёт свой бюджет
	if spec.RemainingSeconds > 0 {
		deadline := time.Duration(spec.RemainingSeconds)*time.Second + time.Minute
		b.mu.Lock()
		b.backstops[spec.BotID] = time.AfterFunc(deadline, func() {
			b.logger.Warn("deadline backstop fired", zap.String("bot_id", spec.BotID))
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_, _ = b.Stop(stopCtx, unit, b.cfg.StopTimeout)
		})
		b.mu.Unlock()
	}

	b.logger.Info("container launched",
		zap.String("bot_id", spec.BotID),
		zap.String("container_id", shortID(created.ID)))

	return unit, nil
}

func (b *DockerBackend) Stop(ctx context.Context, unit *Unit, timeout time.Duration) (bool, error) {
	b.mu.Lock()
	if t, ok := b.backstops[unit.BotID]; ok {
		t.Stop()
		delete(b.backstops, unit.BotID)
	}
	b.mu.Unlock()

	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("t", fmt.Sprintf("%d", int(timeout.Seconds()))).
		Post("/containers/" + unit.ContainerID + "/stop")
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	stopped := false
	switch resp.StatusCode() {
	case http.StatusNoContent:
		stopped = true // демон дождался завершения (SIGTERM, затем SIGKILL)
	case http.StatusNotModified, http.StatusNotFound:
		stopped = false // уже стоял или контейнера нет
	default:
		return false, fmt.Errorf("backend: stop failed: %s", resp.String())
	}

	b.removeContainer(ctx, unit.ContainerID)
	return stopped, nil
}

type containerInspectResponse struct {
	State struct {
		Running  bool `json:"Running"`
		ExitCode int  `json:"ExitCode"`
	} `json:"State"`
}

type containerStatsResponse struct {
	CPUStats    cpuStats `json:"cpu_stats"`
	PreCPUStats cpuStats `json:"precpu_stats"`
	MemoryStats struct {
		Usage uint64 `json:"usage"`
	} `json:"memory_stats"`
}

type cpuStats struct {
	CPUUsage struct {
		TotalUsage uint64 `json:"total_usage"`
	} `json:"cpu_usage"`
	SystemCPUUsage uint64 `json:"system_cpu_usage"`
}

func (b *DockerBackend) Stats(ctx context.Context, unit *Unit) (Stats, error) {
	var inspect containerInspectResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetResult(&inspect).
		Get("/containers/" + unit.ContainerID + "/json")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		// Контейнер исчез — это не ошибка, просто юнит мёртв
		return Stats{Alive: false, ExitCode: -1}, nil
	}
	if resp.IsError() {
		return Stats{}, fmt.Errorf("backend: inspect failed: %s", resp.String())
	}

	if !inspect.State.Running {
		return Stats{Alive: false, ExitCode: inspect.State.ExitCode}, nil
	}

	var stats containerStatsResponse
	resp, err = b.client.R().
		SetContext(ctx).
		SetResult(&stats).
		SetQueryParam("stream", "false").
		Get("/containers/" + unit.ContainerID + "/stats")
	if err != nil {
		return Stats{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.IsError() {
		return Stats{Alive: true}, nil // жив, но без метрик — трактуем как cpu 0
	}

	return Stats{
		Alive:      true,
		CPUPercent: calculateCPUPercent(&stats),
		MemoryMB:   float64(stats.MemoryStats.Usage) / 1024.0 / 1024.0,
	}, nil
}

// calculateCPUPercent — дельта потребления контейнера против дельты
// системного CPU между двумя снимками демона, кламп в [0,100].
func calculateCPUPercent(s *containerStatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemCPUUsage) - float64(s.PreCPUStats.SystemCPUUsage)

	if systemDelta <= 0 || cpuDelta < 0 {
		return 0.0
	}
	pct := (cpuDelta / systemDelta) * 100.0
	if pct > 100.0 {
		return 100.0
	}
	return pct
}

func (b *DockerBackend) removeContainer(ctx context.Context, idOrName string) {
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParam("force", "true").
		Delete("/containers/" + idOrName)
	if err != nil || (resp.IsError() && resp.StatusCode() != http.StatusNotFound) {
		b.logger.Warn("could not remove container", zap.String("container", shortID(idOrName)))
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
