package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/neurohost/internal/backend"
	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/infra"
	"github.com/xela07ax/neurohost/internal/notify"
)

// --- фейки ---

type memStore struct {
	mu   sync.Mutex
	bots map[string]*domain.Bot
}

func newMemStore(bots ...*domain.Bot) *memStore {
	s := &memStore{bots: make(map[string]*domain.Bot)}
	for _, b := range bots {
		cp := *b
		s.bots[b.ID] = &cp
	}
	return s
}

func (s *memStore) get(id string) (*domain.Bot, error) {
	b, ok := s.bots[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *memStore) GetBot(_ context.Context, id string) (*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (s *memStore) ListByOwner(_ context.Context, ownerID string) ([]*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Bot
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) CountByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetRunning(_ context.Context) ([]*domain.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Bot
	for _, b := range s.bots {
		if b.Status == domain.StatusRunning {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) Create(_ context.Context, b *domain.Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bots[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.bots, id)
	return nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.BotStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.Status = status
	return nil
}

func (s *memStore) UpdateResources(_ context.Context, id string, remaining int64, power float64, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.RemainingSeconds = remaining
	b.PowerRemaining = power
	b.LastChecked = checkedAt
	return nil
}

func (s *memStore) SetSleepMode(_ context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.Status = domain.StatusStopped
	b.SleepMode = true
	b.SleepReason = reason
	return nil
}

func (s *memStore) ClearSleep(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.SleepMode = false
	b.SleepReason = ""
	return nil
}

func (s *memStore) IncrementRestart(_ context.Context, id string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return 0, err
	}
	b.RestartCount++
	t := at
	b.LastRestartAt = &t
	return b.RestartCount, nil
}

func (s *memStore) ResetRestartCount(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.RestartCount = 0
	return nil
}

func (s *memStore) SetWarnedLow(_ context.Context, id string, warned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.WarnedLow = warned
	return nil
}

func (s *memStore) MarkAutoRecoveryUsed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.AutoRecoveryUsed = true
	return nil
}

func (s *memStore) SetTimePower(_ context.Context, id string, total, remaining int64, power float64, warnedLow bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := s.get(id)
	if err != nil {
		return err
	}
	b.TotalSeconds = total
	b.RemainingSeconds = remaining
	b.PowerRemaining = power
	b.WarnedLow = warnedLow
	return nil
}

func (s *memStore) snapshot(id string) domain.Bot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bots[id]
}

type memOwners struct {
	mu       sync.Mutex
	owners   map[string]*domain.Owner
	slotOpen bool
	claimed  int
}

func (s *memOwners) GetByID(_ context.Context, id string) (*domain.Owner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.owners[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (s *memOwners) TryClaimDailyRecovery(_ context.Context, _ string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.slotOpen {
		return false, nil
	}
	s.slotOpen = false
	s.claimed++
	return true, nil
}

type fakeBackend struct {
	mu        sync.Mutex
	launches  int
	stops     int
	launchErr error
	stats     backend.Stats
}

func (f *fakeBackend) Launch(_ context.Context, spec backend.LaunchSpec) (*backend.Unit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	f.launches++
	return &backend.Unit{BotID: spec.BotID, PID: 1000 + f.launches, StartedAt: time.Now()}, nil
}

func (f *fakeBackend) Stop(_ context.Context, _ *backend.Unit, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return true, nil
}

func (f *fakeBackend) Stats(_ context.Context, _ *backend.Unit) (backend.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats, nil
}

func (f *fakeBackend) launchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.launches
}

type capturedEvents struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *capturedEvents) Publish(_ context.Context, e notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturedEvents) kinds() []notify.EventKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []notify.EventKind
	for _, e := range c.events {
		out = append(out, e.Kind)
	}
	return out
}

type capturedSink struct {
	mu      sync.Mutex
	entries []botlog.Entry
}

func (c *capturedSink) Record(e botlog.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

type plainCipher struct{}

func (plainCipher) Encrypt(s string) (string, error) { return s, nil }
func (plainCipher) Decrypt(s string) (string, error) { return s, nil }

// --- сборка ---

type testRig struct {
	orch   *Orchestrator
	store  *memStore
	owners *memOwners
	bk     *fakeBackend
	events *capturedEvents
	sink   *capturedSink
}

func testEngineConfig() infra.EngineConfig {
	return infra.EngineConfig{
		TickPeriod:       30 * time.Second,
		TickParallelism:  4,
		RestartCooldown:  60 * time.Second,
		RestartDelay:     3 * time.Second,
		RestartPowerCost: 2.0,
		RestartTimeCost:  60,
		AntiLoopLimit:    5,
	}
}

func newRig(t *testing.T, bots ...*domain.Bot) *testRig {
	t.Helper()

	store := newMemStore(bots...)
	owners := &memOwners{
		owners: map[string]*domain.Owner{
			"owner-1": {ID: "owner-1", Username: "alice", Plan: domain.PlanFree},
		},
		slotOpen: true,
	}
	bk := &fakeBackend{stats: backend.Stats{Alive: true}}
	events := &capturedEvents{}
	sink := &capturedSink{}

	orch := New(
		testEngineConfig(),
		store, owners,
		map[domain.BackendKind]backend.ExecutionBackend{domain.BackendProcess: bk},
		plainCipher{}, sink, events,
		NewMetrics(nil),
		5*time.Second,
		zap.NewNop(),
	)
	// В тестах пауза перед перезапуском не нужна
	orch.policy.delay = func(time.Duration) {}
	return &testRig{orch: orch, store: store, owners: owners, bk: bk, events: events, sink: sink}
}

func healthyBot() *domain.Bot {
	return &domain.Bot{
		ID:               "bot-1",
		OwnerID:          "owner-1",
		Name:             "pinger",
		Status:           domain.StatusStopped,
		Backend:          domain.BackendProcess,
		TotalSeconds:     86400,
		RemainingSeconds: 86400,
		PowerMax:         30.0,
		PowerRemaining:   30.0,
		LastChecked:      time.Now().UTC(),
		Entrypoint:       "main.py",
		TokenEncrypted:   "tok",
	}
}

// --- политика рестартов ---

func TestPolicyChargesAndRestarts(t *testing.T) {
	rig := newRig(t, healthyBot())

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, int64(86340), got.RemainingSeconds)
	assert.InDelta(t, 28.0, got.PowerRemaining, 0.001)
	assert.Equal(t, 1, got.RestartCount)
	require.NotNil(t, got.LastRestartAt)
	assert.Equal(t, 1, rig.bk.launchCount())
	assert.Contains(t, rig.events.kinds(), notify.EventBotRestarted)
}

func TestPolicyCooldownSkips(t *testing.T) {
	bot := healthyBot()
	recent := time.Now().UTC().Add(-10 * time.Second)
	bot.LastRestartAt = &recent
	bot.RestartCount = 1
	rig := newRig(t, bot)

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, int64(86400), got.RemainingSeconds) // без списаний
	assert.Equal(t, 1, got.RestartCount)
	assert.Equal(t, 0, rig.bk.launchCount())
	assert.False(t, got.SleepMode)
}

func TestPolicyCooldownExpired(t *testing.T) {
	bot := healthyBot()
	old := time.Now().UTC().Add(-61 * time.Second)
	bot.LastRestartAt = &old
	bot.RestartCount = 1
	rig := newRig(t, bot)

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, 2, got.RestartCount)
	assert.Equal(t, 1, rig.bk.launchCount())
}

func TestPolicyAntiLoop(t *testing.T) {
	bot := healthyBot()
	bot.RestartCount = 5
	rig := newRig(t, bot)

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.True(t, got.SleepMode)
	assert.Equal(t, domain.SleepReasonAntiLoop, got.SleepReason)
	assert.Equal(t, 0, rig.bk.launchCount())
	assert.Contains(t, rig.events.kinds(), notify.EventBotSlept)
}

func TestPolicyAutoRecovery(t *testing.T) {
	bot := healthyBot()
	bot.RemainingSeconds = 0
	bot.PowerRemaining = 0
	rig := newRig(t, bot)

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.True(t, got.AutoRecoveryUsed)
	assert.Equal(t, int64(RecoveryTimeGrant), got.RemainingSeconds)
	assert.InDelta(t, RecoveryPowerGrant, got.PowerRemaining, 0.001)
	assert.Equal(t, 0, got.RestartCount) // бесплатно, без инкремента
	assert.Equal(t, 1, rig.bk.launchCount())
	assert.Equal(t, 1, rig.owners.claimed)
	assert.Contains(t, rig.events.kinds(), notify.EventRecovered)
}

func TestPolicyAutoRecoveryLaunchFailureLeavesBotStopped(t *testing.T) {
	bot := healthyBot()
	bot.RemainingSeconds = 0
	bot.PowerRemaining = 0
	rig := newRig(t, bot)
	rig.bk.launchErr = errors.New("daemon down")

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	// Стипендия зачислена, но после неудачного запуска бот остаётся
	// остановленным: без сна, без списаний, без инкремента счётчика
	got := rig.store.snapshot("bot-1")
	assert.Equal(t, domain.StatusStopped, got.Status)
	assert.False(t, got.SleepMode)
	assert.Empty(t, got.SleepReason)
	assert.Equal(t, 0, got.RestartCount)
	assert.True(t, got.AutoRecoveryUsed)
	assert.Equal(t, int64(RecoveryTimeGrant), got.RemainingSeconds)
	assert.InDelta(t, RecoveryPowerGrant, got.PowerRemaining, 0.001)
	assert.Equal(t, 1, rig.owners.claimed)
	assert.Equal(t, 0, rig.bk.launchCount())
	assert.NotContains(t, rig.events.kinds(), notify.EventRecovered)
}

func TestPolicyAutoRecoveryExclusive(t *testing.T) {
	bot := healthyBot()
	bot.RemainingSeconds = 0
	bot.AutoRecoveryUsed = true
	rig := newRig(t, bot)
	rig.owners.slotOpen = true // суточный слот открыт, но флаг бота сгорел

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.True(t, got.SleepMode)
	assert.Equal(t, domain.SleepReasonNoPower, got.SleepReason)
	assert.Equal(t, 0, rig.bk.launchCount())
	assert.Equal(t, 0, rig.owners.claimed)
}

func TestPolicyDepletedWithoutRecoverySleeps(t *testing.T) {
	bot := healthyBot()
	bot.PowerRemaining = 0
	rig := newRig(t, bot)
	rig.owners.slotOpen = false // слот сегодня уже потрачен

	rig.orch.policy.OnExit(context.Background(), "bot-1", 1)

	got := rig.store.snapshot("bot-1")
	assert.True(t, got.SleepMode)
	assert.Equal(t, domain.SleepReasonNoPower, got.SleepReason)
}

// --- enforcement ---

func TestEnforceBotDrainsProportionally(t *testing.T) {
	bot := healthyBot()
	bot.Status = domain.StatusRunning
	bot.LastChecked = time.Now().UTC().Add(-600 * time.Second)
	rig := newRig(t, bot)

	rig.bk.stats = backend.Stats{Alive: true, CPUPercent: 50.0}
	rig.orch.units["bot-1"] = &unitHandle{
		unit:   &backend.Unit{BotID: "bot-1"},
		bk:     rig.bk,
		cancel: func() {},
	}

	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.InDelta(t, 85800, float64(got.RemainingSeconds), 1.5)
	assert.InDelta(t, 24.0, got.PowerRemaining, 0.01)

	// Второй тик: нулевой CPU не трогает энергию
	rig.bk.stats = backend.Stats{Alive: true, CPUPercent: 0.0}
	rig.store.mu.Lock()
	rig.store.bots["bot-1"].LastChecked = time.Now().UTC().Add(-600 * time.Second)
	rig.store.mu.Unlock()

	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	got = rig.store.snapshot("bot-1")
	assert.InDelta(t, 85200, float64(got.RemainingSeconds), 3.0)
	assert.InDelta(t, 24.0, got.PowerRemaining, 0.01)
}

func TestEnforceBotSleepsOnDepletion(t *testing.T) {
	bot := healthyBot()
	bot.Status = domain.StatusRunning
	bot.RemainingSeconds = 10
	bot.LastChecked = time.Now().UTC().Add(-600 * time.Second)
	rig := newRig(t, bot)
	rig.orch.units["bot-1"] = &unitHandle{
		unit:   &backend.Unit{BotID: "bot-1"},
		bk:     rig.bk,
		cancel: func() {},
	}

	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, int64(0), got.RemainingSeconds)
	assert.True(t, got.SleepMode)
	assert.Equal(t, domain.SleepReasonExpired, got.SleepReason)
	assert.Equal(t, 1, rig.bk.stops)
	assert.Contains(t, rig.events.kinds(), notify.EventBotSlept)
}

func TestEnforceBotWarnsLowOnce(t *testing.T) {
	bot := healthyBot()
	bot.Status = domain.StatusRunning
	bot.RemainingSeconds = 700
	bot.LastChecked = time.Now().UTC().Add(-200 * time.Second)
	rig := newRig(t, bot)

	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.True(t, got.WarnedLow)
	assert.Contains(t, rig.events.kinds(), notify.EventLowTime)

	// Повторный тик предупреждение не дублирует
	rig.store.mu.Lock()
	rig.store.bots["bot-1"].LastChecked = time.Now().UTC().Add(-10 * time.Second)
	rig.store.mu.Unlock()
	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	warnings := 0
	for _, k := range rig.events.kinds() {
		if k == notify.EventLowTime {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestEnforceSkipsStoppedBot(t *testing.T) {
	bot := healthyBot()
	bot.LastChecked = time.Now().UTC().Add(-600 * time.Second)
	rig := newRig(t, bot)

	require.NoError(t, rig.orch.enforceBot(context.Background(), "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, int64(86400), got.RemainingSeconds)
}

// --- фасад ---

func TestStartRefusesSleeping(t *testing.T) {
	bot := healthyBot()
	bot.SleepMode = true
	bot.SleepReason = domain.SleepReasonAntiLoop
	rig := newRig(t, bot)

	err := rig.orch.Start(context.Background(), "owner-1", "bot-1")
	assert.ErrorIs(t, err, domain.ErrSleeping)
}

func TestStartRefusesDepleted(t *testing.T) {
	bot := healthyBot()
	bot.PowerRemaining = 0
	rig := newRig(t, bot)

	err := rig.orch.Start(context.Background(), "owner-1", "bot-1")
	assert.ErrorIs(t, err, domain.ErrResourceExhausted)
}

func TestStartRefusesForeignBot(t *testing.T) {
	rig := newRig(t, healthyBot())

	err := rig.orch.Start(context.Background(), "owner-2", "bot-1")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestStartResetsRestartCount(t *testing.T) {
	bot := healthyBot()
	bot.RestartCount = 3
	rig := newRig(t, bot)

	require.NoError(t, rig.orch.Start(context.Background(), "owner-1", "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.Equal(t, 0, got.RestartCount)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestAddTimeWakesDepletionSleeper(t *testing.T) {
	bot := healthyBot()
	bot.SleepMode = true
	bot.SleepReason = domain.SleepReasonExpired
	bot.TotalSeconds = 3600
	bot.RemainingSeconds = 0
	rig := newRig(t, bot)

	require.NoError(t, rig.orch.AddTime(context.Background(), "owner-1", "bot-1", 3600))

	got := rig.store.snapshot("bot-1")
	assert.False(t, got.SleepMode)
	assert.Equal(t, int64(3600), got.RemainingSeconds)
	assert.Equal(t, 1, rig.bk.launchCount())
}

func TestAddTimeRejectsOverPlanCap(t *testing.T) {
	rig := newRig(t, healthyBot()) // free: total уже на потолке 86400

	err := rig.orch.AddTime(context.Background(), "owner-1", "bot-1", 3600)
	assert.ErrorIs(t, err, domain.ErrPlanLimitExceeded)
}

func TestRecoverConsumesDailySlot(t *testing.T) {
	bot := healthyBot()
	bot.SleepMode = true
	bot.SleepReason = domain.SleepReasonExpired
	bot.RemainingSeconds = 0
	bot.PowerRemaining = 0
	rig := newRig(t, bot)

	require.NoError(t, rig.orch.Recover(context.Background(), "owner-1", "bot-1"))

	got := rig.store.snapshot("bot-1")
	assert.False(t, got.SleepMode)
	assert.Equal(t, int64(RecoveryTimeGrant), got.RemainingSeconds)
	assert.InDelta(t, RecoveryPowerGrant, got.PowerRemaining, 0.001)

	// Второй за день — отказ
	err := rig.orch.Recover(context.Background(), "owner-1", "bot-1")
	assert.ErrorIs(t, err, domain.ErrRecoveryUnavailable)
}

func TestCreateEnforcesPlanQuota(t *testing.T) {
	rig := newRig(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := rig.orch.Create(ctx, "owner-1", CreateBotRequest{
			Name: "b", Backend: domain.BackendProcess, Entrypoint: "main.py", Token: "t",
		})
		require.NoError(t, err)
	}

	_, err := rig.orch.Create(ctx, "owner-1", CreateBotRequest{
		Name: "b4", Backend: domain.BackendProcess, Entrypoint: "main.py", Token: "t",
	})
	assert.ErrorIs(t, err, domain.ErrPlanLimitExceeded)
}

func TestCreateInitializesLedgerFromPlan(t *testing.T) {
	rig := newRig(t)

	bot, err := rig.orch.Create(context.Background(), "owner-1", CreateBotRequest{
		Name: "pinger", Backend: domain.BackendProcess, Entrypoint: "main.py", Token: "secret",
	})
	require.NoError(t, err)

	limits := domain.PlanFree.Limits()
	assert.Equal(t, limits.MaxTotalSeconds, bot.TotalSeconds)
	assert.Equal(t, limits.MaxTotalSeconds, bot.RemainingSeconds)
	assert.Equal(t, limits.MaxPower, bot.PowerMax)
	assert.Equal(t, limits.MaxPower, bot.PowerRemaining)
	assert.Equal(t, domain.StatusStopped, bot.Status)
}

func TestDeleteStopsUnit(t *testing.T) {
	rig := newRig(t, healthyBot())
	ctx := context.Background()

	require.NoError(t, rig.orch.Start(ctx, "owner-1", "bot-1"))
	require.NoError(t, rig.orch.Delete(ctx, "owner-1", "bot-1"))

	assert.Equal(t, 1, rig.bk.stops)
	_, err := rig.store.GetBot(ctx, "bot-1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestLaunchErrorWrapsCause(t *testing.T) {
	rig := newRig(t, healthyBot())
	rig.bk.launchErr = backend.ErrImageMissing

	err := rig.orch.Start(context.Background(), "owner-1", "bot-1")
	require.Error(t, err)

	var launchErr *domain.LaunchError
	require.True(t, errors.As(err, &launchErr))
	assert.ErrorIs(t, launchErr.Cause, backend.ErrImageMissing)
}
