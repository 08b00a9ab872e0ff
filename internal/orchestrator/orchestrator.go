package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/backend"
	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/infra"
	"github.com/xela07ax/neurohost/internal/ledger"
	"github.com/xela07ax/neurohost/internal/notify"
)

// Стипендия ручного и авто-восстановления: фиксированный грант,
// достаточный чтобы бот поднялся и дожил до пополнения владельцем.
const (
	RecoveryTimeGrant  = 3600 // секунд
	RecoveryPowerGrant = 20.0
)

// BotStore — контракт персистентности леджера и записи бота.
// Все апдейты атомарны в пределах одной строки.
type BotStore interface {
	GetBot(ctx context.Context, id string) (*domain.Bot, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Bot, error)
	CountByOwner(ctx context.Context, ownerID string) (int, error)
	GetRunning(ctx context.Context) ([]*domain.Bot, error)
	Create(ctx context.Context, b *domain.Bot) error
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.BotStatus) error
	UpdateResources(ctx context.Context, id string, remainingSeconds int64, powerRemaining float64, checkedAt time.Time) error
	SetSleepMode(ctx context.Context, id string, reason string) error
	ClearSleep(ctx context.Context, id string) error
	IncrementRestart(ctx context.Context, id string, at time.Time) (int, error)
	ResetRestartCount(ctx context.Context, id string) error
	SetWarnedLow(ctx context.Context, id string, warned bool) error
	MarkAutoRecoveryUsed(ctx context.Context, id string) error
	SetTimePower(ctx context.Context, id string, totalSeconds, remainingSeconds int64, powerRemaining float64, warnedLow bool) error
}

type OwnerStore interface {
	GetByID(ctx context.Context, id string) (*domain.Owner, error)
	TryClaimDailyRecovery(ctx context.Context, ownerID string) (bool, error)
}

// EventPublisher доставляет уведомления владельцам (best-effort)
type EventPublisher interface {
	Publish(ctx context.Context, event notify.Event)
}

// LogSink принимает записи журнала ошибок (non-blocking)
type LogSink interface {
	Record(entry botlog.Entry)
}

// TokenCipher прячет токены ботов в персистентном слое
type TokenCipher interface {
	Encrypt(plain string) (string, error)
	Decrypt(encrypted string) (string, error)
}

// unitHandle — живой юнит плюс рычаги его наблюдателей
type unitHandle struct {
	unit   *backend.Unit
	bk     backend.ExecutionBackend
	cancel context.CancelFunc
}

// Orchestrator — фасад жизненного цикла ботов. Сериализует конкурентные
// операции пер-ботовой блокировкой: enforcement-тик, политика рестартов
// и пользовательские команды мутируют один леджер.
type Orchestrator struct {
	cfg      infra.EngineConfig
	repo     BotStore
	owners   OwnerStore
	backends map[domain.BackendKind]backend.ExecutionBackend
	cipher   TokenCipher
	sink     LogSink
	events   EventPublisher
	metrics  *Metrics
	logger   *zap.Logger

	stopTimeout time.Duration

	policy *restartPolicy

	mu       sync.Mutex
	units    map[string]*unitHandle // единственная глобальная мутабельная структура
	locks    map[string]*sync.Mutex
	inflight map[string]struct{}
}

func New(
	cfg infra.EngineConfig,
	repo BotStore,
	owners OwnerStore,
	backends map[domain.BackendKind]backend.ExecutionBackend,
	cipher TokenCipher,
	sink LogSink,
	events EventPublisher,
	metrics *Metrics,
	stopTimeout time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		repo:        repo,
		owners:      owners,
		backends:    backends,
		cipher:      cipher,
		sink:        sink,
		events:      events,
		metrics:     metrics,
		logger:      logger.Named("orchestrator"),
		stopTimeout: stopTimeout,
		units:       make(map[string]*unitHandle),
		locks:       make(map[string]*sync.Mutex),
		inflight:    make(map[string]struct{}),
	}
	o.policy = newRestartPolicy(o)
	return o
}

// lockBot возвращает пер-ботовый мьютекс, создавая его при первом обращении
func (o *Orchestrator) lockBot(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.locks[id]
	if !ok {
		m = &sync.Mutex{}
		o.locks[id] = m
	}
	return m
}

func (o *Orchestrator) handleFor(id string) (*unitHandle, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	h, ok := o.units[id]
	return h, ok
}

// loadOwned достаёт бота и сверяет владельца
func (o *Orchestrator) loadOwned(ctx context.Context, ownerID, botID string) (*domain.Bot, error) {
	bot, err := o.repo.GetBot(ctx, botID)
	if err != nil {
		return nil, err
	}
	if bot.OwnerID != ownerID {
		return nil, domain.ErrPermissionDenied
	}
	return bot, nil
}

// CreateBotRequest — тюпл от слоя инжеста: код уже загружен и просканирован
type CreateBotRequest struct {
	Name       string             `json:"name"`
	Backend    domain.BackendKind `json:"backend"`
	CodeDir    string             `json:"code_dir"`
	Entrypoint string             `json:"entrypoint"`
	Token      string             `json:"token"`
}

// Create регистрирует бота с леджером, инициализированным из тарифа владельца
func (o *Orchestrator) Create(ctx context.Context, ownerID string, req CreateBotRequest) (*domain.Bot, error) {
	owner, err := o.owners.GetByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	limits := owner.Plan.Limits()

	count, err := o.repo.CountByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if count >= limits.MaxBots {
		return nil, fmt.Errorf("%w: plan %s allows %d bots", domain.ErrPlanLimitExceeded, owner.Plan, limits.MaxBots)
	}

	if _, ok := o.backends[req.Backend]; !ok {
		return nil, fmt.Errorf("unknown backend kind %q", req.Backend)
	}

	encrypted, err := o.cipher.Encrypt(req.Token)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bot := &domain.Bot{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Name:             req.Name,
		Status:           domain.StatusStopped,
		Backend:          req.Backend,
		TotalSeconds:     limits.MaxTotalSeconds,
		RemainingSeconds: limits.MaxTotalSeconds,
		PowerMax:         limits.MaxPower,
		PowerRemaining:   limits.MaxPower,
		LastChecked:      now,
		CodeDir:          req.CodeDir,
		Entrypoint:       req.Entrypoint,
		TokenEncrypted:   encrypted,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := o.repo.Create(ctx, bot); err != nil {
		return nil, err
	}

	o.logger.Info("bot created",
		zap.String("bot_id", bot.ID),
		zap.String("owner_id", ownerID),
		zap.String("backend", string(bot.Backend)))
	return bot, nil
}

// Start запускает юнит по запросу владельца. Спящий бот не стартует,
// пока его не разбудит пополнение или восстановление.
func (o *Orchestrator) Start(ctx context.Context, ownerID, botID string) error {
	if o.launchInFlight(botID) {
		return domain.ErrLaunchInFlight
	}

	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.loadOwned(ctx, ownerID, botID)
	if err != nil {
		o.metrics.LifecycleOps.WithLabelValues("start", "error").Inc()
		return err
	}
	if bot.SleepMode {
		o.metrics.LifecycleOps.WithLabelValues("start", "refused").Inc()
		return fmt.Errorf("%w: %s", domain.ErrSleeping, bot.SleepReason)
	}
	if bot.Depleted() {
		o.metrics.LifecycleOps.WithLabelValues("start", "refused").Inc()
		return domain.ErrResourceExhausted
	}

	if err := o.launchLocked(ctx, bot, true); err != nil {
		o.metrics.LifecycleOps.WithLabelValues("start", "error").Inc()
		return err
	}
	o.metrics.LifecycleOps.WithLabelValues("start", "ok").Inc()
	return nil
}

func (o *Orchestrator) launchInFlight(botID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.inflight[botID]
	return ok
}

// launchLocked выполняет запуск. Вызывается только под пер-ботовой
// блокировкой. userInitiated сбрасывает счётчик рестартов: успешный
// старт руками владельца размыкает anti-loop предохранитель.
func (o *Orchestrator) launchLocked(ctx context.Context, bot *domain.Bot, userInitiated bool) error {
	if _, ok := o.handleFor(bot.ID); ok {
		return nil // юнит уже жив, старт идемпотентен
	}

	o.mu.Lock()
	o.inflight[bot.ID] = struct{}{}
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inflight, bot.ID)
		o.mu.Unlock()
	}()

	token, err := o.cipher.Decrypt(bot.TokenEncrypted)
	if err != nil {
		return &domain.LaunchError{BotID: bot.ID, Cause: err}
	}

	bk := o.backends[bot.Backend]
	if bk == nil {
		return &domain.LaunchError{BotID: bot.ID, Cause: fmt.Errorf("no backend for kind %q", bot.Backend)}
	}

	unit, err := bk.Launch(ctx, backend.LaunchSpec{
		BotID:            bot.ID,
		CodeDir:          bot.CodeDir,
		Entrypoint:       bot.Entrypoint,
		Token:            token,
		RemainingSeconds: bot.RemainingSeconds,
	})
	if err != nil {
		return &domain.LaunchError{BotID: bot.ID, Cause: err}
	}

	// Наблюдатели живут дольше запроса, контекст у них собственный
	watchCtx, cancel := context.WithCancel(context.Background())
	h := &unitHandle{unit: unit, bk: bk, cancel: cancel}

	o.mu.Lock()
	o.units[bot.ID] = h
	o.mu.Unlock()
	o.metrics.RunningBots.Inc()

	now := time.Now().UTC()
	if err := o.repo.UpdateStatus(ctx, bot.ID, domain.StatusRunning); err != nil {
		o.logger.Error("failed to persist running status", zap.String("bot_id", bot.ID), zap.Error(err))
	}
	// Сдвигаем точку отсчёта drain: простой не тарифицируется
	if err := o.repo.UpdateResources(ctx, bot.ID, bot.RemainingSeconds, bot.PowerRemaining, now); err != nil {
		o.logger.Error("failed to reset last_checked", zap.String("bot_id", bot.ID), zap.Error(err))
	}
	if userInitiated && bot.RestartCount > 0 {
		if err := o.repo.ResetRestartCount(ctx, bot.ID); err != nil {
			o.logger.Error("failed to reset restart count", zap.String("bot_id", bot.ID), zap.Error(err))
		}
	}

	go o.runExitWatcher(watchCtx, bot.ID, h)
	if unit.StderrPath != "" {
		go o.runLogWatcher(watchCtx, bot.ID, bot.OwnerID, h)
	}

	o.logger.Info("unit launched",
		zap.String("bot_id", bot.ID),
		zap.String("backend", string(bot.Backend)),
		zap.Bool("user_initiated", userInitiated))
	return nil
}

// Stop останавливает юнит по запросу владельца
func (o *Orchestrator) Stop(ctx context.Context, ownerID, botID string) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	if _, err := o.loadOwned(ctx, ownerID, botID); err != nil {
		o.metrics.LifecycleOps.WithLabelValues("stop", "error").Inc()
		return err
	}

	o.stopUnitLocked(ctx, botID)
	if err := o.repo.UpdateStatus(ctx, botID, domain.StatusStopped); err != nil {
		o.metrics.LifecycleOps.WithLabelValues("stop", "error").Inc()
		return err
	}
	o.metrics.LifecycleOps.WithLabelValues("stop", "ok").Inc()
	return nil
}

// stopUnitLocked гасит юнит и его наблюдателей. Вызывать под пер-ботовой
// блокировкой. Возвращает true, если что-то действительно работало.
func (o *Orchestrator) stopUnitLocked(ctx context.Context, botID string) bool {
	o.mu.Lock()
	h, ok := o.units[botID]
	if ok {
		delete(o.units, botID)
	}
	o.mu.Unlock()
	if !ok {
		return false
	}

	h.cancel()
	o.metrics.RunningBots.Dec()

	stopped, err := h.bk.Stop(ctx, h.unit, o.stopTimeout)
	if err != nil {
		o.logger.Error("unit stop failed", zap.String("bot_id", botID), zap.Error(err))
		return false
	}
	return stopped
}

// sleepLocked переводит бота в сон: юнит гасится, причина персистится.
// Вызывать под пер-ботовой блокировкой.
func (o *Orchestrator) sleepLocked(ctx context.Context, botID, reason string) error {
	o.stopUnitLocked(ctx, botID)
	if err := o.repo.SetSleepMode(ctx, botID, reason); err != nil {
		return err
	}
	o.metrics.SleepsTotal.WithLabelValues(reason).Inc()
	o.logger.Warn("bot put to sleep", zap.String("bot_id", botID), zap.String("reason", reason))
	return nil
}

// ForceSleep — административное усыпление без проверки владельца
func (o *Orchestrator) ForceSleep(ctx context.Context, botID, reason string) error {
	if reason == "" {
		reason = domain.SleepReasonAdmin
	}

	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.repo.GetBot(ctx, botID)
	if err != nil {
		return err
	}
	if err := o.sleepLocked(ctx, botID, reason); err != nil {
		return err
	}
	o.events.Publish(ctx, notify.Event{
		Kind:    notify.EventBotSlept,
		BotID:   botID,
		OwnerID: bot.OwnerID,
		Message: fmt.Sprintf("bot %s was put to sleep (%s)", bot.Name, reason),
	})
	return nil
}

// Delete останавливает юнит и удаляет бота вместе с леджером
func (o *Orchestrator) Delete(ctx context.Context, ownerID, botID string) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	if _, err := o.loadOwned(ctx, ownerID, botID); err != nil {
		return err
	}
	o.stopUnitLocked(ctx, botID)
	return o.repo.Delete(ctx, botID)
}

// AddTime пополняет время в пределах тарифа и будит бота, уснувшего
// из-за исчерпания ресурсов.
func (o *Orchestrator) AddTime(ctx context.Context, ownerID, botID string, seconds int64) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return err
	}
	owner, err := o.owners.GetByID(ctx, ownerID)
	if err != nil {
		return err
	}

	if err := ledger.AddTime(bot, owner.Plan.Limits(), seconds); err != nil {
		o.metrics.LifecycleOps.WithLabelValues("add_time", "refused").Inc()
		return err
	}
	if err := o.repo.SetTimePower(ctx, botID, bot.TotalSeconds, bot.RemainingSeconds, bot.PowerRemaining, bot.WarnedLow); err != nil {
		return err
	}
	o.metrics.LifecycleOps.WithLabelValues("add_time", "ok").Inc()

	o.wakeIfDepletedSleepLocked(ctx, bot)
	return nil
}

// AddPower пополняет энергию до потолка тарифа
func (o *Orchestrator) AddPower(ctx context.Context, ownerID, botID string, pct float64) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return err
	}

	ledger.AddPower(bot, pct)
	if err := o.repo.SetTimePower(ctx, botID, bot.TotalSeconds, bot.RemainingSeconds, bot.PowerRemaining, bot.WarnedLow); err != nil {
		return err
	}
	o.metrics.LifecycleOps.WithLabelValues("add_power", "ok").Inc()

	o.wakeIfDepletedSleepLocked(ctx, bot)
	return nil
}

// wakeIfDepletedSleepLocked будит бота, уснувшего из-за ресурсов, после
// пополнения. Пробуждение best-effort: отказ запуска не валит пополнение.
func (o *Orchestrator) wakeIfDepletedSleepLocked(ctx context.Context, bot *domain.Bot) {
	if !bot.SleepMode {
		return
	}
	if bot.SleepReason != domain.SleepReasonExpired && bot.SleepReason != domain.SleepReasonNoPower {
		return
	}
	if bot.Depleted() {
		return
	}

	if err := o.repo.ClearSleep(ctx, bot.ID); err != nil {
		o.logger.Error("failed to clear sleep", zap.String("bot_id", bot.ID), zap.Error(err))
		return
	}
	bot.SleepMode = false
	bot.SleepReason = ""

	if err := o.launchLocked(ctx, bot, true); err != nil {
		o.logger.Error("wake-up launch failed", zap.String("bot_id", bot.ID), zap.Error(err))
		return
	}
	o.events.Publish(ctx, notify.Event{
		Kind:    notify.EventRecovered,
		BotID:   bot.ID,
		OwnerID: bot.OwnerID,
		Message: fmt.Sprintf("bot %s woke up after top-up", bot.Name),
	})
}

// Recover — ручное восстановление: суточный слот владельца обменивается
// на фиксированную стипендию времени и энергии.
func (o *Orchestrator) Recover(ctx context.Context, ownerID, botID string) error {
	m := o.lockBot(botID)
	m.Lock()
	defer m.Unlock()

	bot, err := o.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return err
	}

	claimed, err := o.owners.TryClaimDailyRecovery(ctx, ownerID)
	if err != nil {
		return err
	}
	if !claimed {
		o.metrics.LifecycleOps.WithLabelValues("recover", "refused").Inc()
		return domain.ErrRecoveryUnavailable
	}

	bot.RemainingSeconds += RecoveryTimeGrant
	if bot.RemainingSeconds > bot.TotalSeconds {
		bot.RemainingSeconds = bot.TotalSeconds
	}
	ledger.AddPower(bot, RecoveryPowerGrant)
	bot.WarnedLow = false

	if err := o.repo.SetTimePower(ctx, botID, bot.TotalSeconds, bot.RemainingSeconds, bot.PowerRemaining, false); err != nil {
		return err
	}
	if bot.SleepMode {
		if err := o.repo.ClearSleep(ctx, botID); err != nil {
			return err
		}
		bot.SleepMode = false
		bot.SleepReason = ""
	}

	if err := o.launchLocked(ctx, bot, true); err != nil {
		o.logger.Error("recovery launch failed", zap.String("bot_id", botID), zap.Error(err))
	}
	o.metrics.LifecycleOps.WithLabelValues("recover", "ok").Inc()

	o.events.Publish(ctx, notify.Event{
		Kind:    notify.EventRecovered,
		BotID:   botID,
		OwnerID: ownerID,
		Message: fmt.Sprintf("bot %s recovered: +%ds, +%.1f power", bot.Name, RecoveryTimeGrant, RecoveryPowerGrant),
	})
	return nil
}

// GetStatus — read-model: леджер из базы плюс живая выборка с бэкенда
func (o *Orchestrator) GetStatus(ctx context.Context, ownerID, botID string) (*domain.BotSnapshot, error) {
	bot, err := o.loadOwned(ctx, ownerID, botID)
	if err != nil {
		return nil, err
	}

	snap := &domain.BotSnapshot{Bot: bot}
	if h, ok := o.handleFor(botID); ok {
		stats, err := h.bk.Stats(ctx, h.unit)
		if err != nil {
			o.logger.Warn("stats unavailable for status", zap.String("bot_id", botID), zap.Error(err))
		} else {
			snap.CPUPercent = stats.CPUPercent
			snap.MemoryMB = stats.MemoryMB
			snap.UnitAlive = stats.Alive
		}
	}
	return snap, nil
}

func (o *Orchestrator) List(ctx context.Context, ownerID string) ([]*domain.Bot, error) {
	return o.repo.ListByOwner(ctx, ownerID)
}

// ResyncRunning выравнивает базу с реальностью после рестарта сервиса:
// юниты не переживают процесс оркестратора, статус running в базе без
// живого юнита — артефакт прошлой жизни.
func (o *Orchestrator) ResyncRunning(ctx context.Context) error {
	bots, err := o.repo.GetRunning(ctx)
	if err != nil {
		return err
	}
	for _, bot := range bots {
		if _, ok := o.handleFor(bot.ID); ok {
			continue
		}
		if err := o.repo.UpdateStatus(ctx, bot.ID, domain.StatusStopped); err != nil {
			o.logger.Error("resync failed", zap.String("bot_id", bot.ID), zap.Error(err))
			continue
		}
		o.logger.Info("stale running status cleared", zap.String("bot_id", bot.ID))
	}
	return nil
}
