package service

import (
	"context"

	"github.com/xela07ax/neurohost/internal/botlog"
	"github.com/xela07ax/neurohost/internal/domain"
	"github.com/xela07ax/neurohost/internal/orchestrator"
)

// LogProvider отдаёт страницы журнала ошибок бота
type LogProvider interface {
	GetRecent(ctx context.Context, botID string, limit, offset int) ([]botlog.Entry, error)
}

// FleetProvider отдаёт сводку по всему парку
type FleetProvider interface {
	GetFleetStats(ctx context.Context) (*domain.FleetStats, error)
}

// BotService — тонкая прослойка между HTTP-обработчиками и оркестратором.
// Проверка владения живёт в оркестраторе, сервис только маршрутизирует.
type BotService struct {
	Orch  *orchestrator.Orchestrator
	logs  LogProvider
	fleet FleetProvider
}

func NewBotService(orch *orchestrator.Orchestrator, logs LogProvider, fleet FleetProvider) *BotService {
	return &BotService{Orch: orch, logs: logs, fleet: fleet}
}

// GetLogs отдаёт журнал бота, предварительно сверив владельца
func (s *BotService) GetLogs(ctx context.Context, ownerID, botID string, limit, offset int) ([]botlog.Entry, error) {
	if _, err := s.Orch.GetStatus(ctx, ownerID, botID); err != nil {
		return nil, err
	}
	return s.logs.GetRecent(ctx, botID, limit, offset)
}

func (s *BotService) FleetStats(ctx context.Context) (*domain.FleetStats, error) {
	return s.fleet.GetFleetStats(ctx)
}
