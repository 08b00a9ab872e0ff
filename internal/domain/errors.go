package domain

import (
	"errors"
	"fmt"
)

// Типизированные отказы пользовательских операций. Фоновые циклы эти ошибки
// не выбрасывают наружу — они изолируются и логируются на месте.
var (
	ErrNotFound            = errors.New("not found")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrResourceExhausted   = errors.New("no hosting time or power remaining")
	ErrSleeping            = errors.New("bot is in sleep mode, top up or recover first")
	ErrPlanLimitExceeded   = errors.New("plan limit exceeded")
	ErrRecoveryUnavailable = errors.New("recovery already used")
	ErrBackendUnavailable  = errors.New("execution backend unavailable")
	ErrLaunchInFlight      = errors.New("launch already in progress for this bot")
)

// LaunchError оборачивает причину со стороны бэкенда (ImageMissing,
// лимиты, IO). Бот при этом остаётся в согласованном состоянии stopped.
type LaunchError struct {
	BotID string
	Cause error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed for bot %s: %v", e.BotID, e.Cause)
}

func (e *LaunchError) Unwrap() error { return e.Cause }
