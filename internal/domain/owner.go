package domain

import "time"

type Plan string

const (
	PlanFree  Plan = "free"
	PlanPro   Plan = "pro"
	PlanUltra Plan = "ultra"
)

// PlanLimit — фиксированные квоты тарифа.
type PlanLimit struct {
	MaxBots         int
	MaxTotalSeconds int64
	MaxPower        float64
}

// PlanLimits Квоты по тарифам. ultra фактически безлимитен по времени.
var PlanLimits = map[Plan]PlanLimit{
	PlanFree:  {MaxBots: 3, MaxTotalSeconds: 86400, MaxPower: 30.0},
	PlanPro:   {MaxBots: 10, MaxTotalSeconds: 604800, MaxPower: 60.0},
	PlanUltra: {MaxBots: 100, MaxTotalSeconds: 1e12, MaxPower: 100.0},
}

// Limits возвращает квоты тарифа; неизвестный тариф трактуем как free.
func (p Plan) Limits() PlanLimit {
	if l, ok := PlanLimits[p]; ok {
		return l
	}
	return PlanLimits[PlanFree]
}

// Owner — владелец ботов. last_recovery_date ограничивает бесплатное
// восстановление одним разом в календарные сутки (UTC) на все боты владельца.
type Owner struct {
	ID               string     `json:"id"`
	Username         string     `json:"username"`
	PasswordHash     string     `json:"-"` // Никогда не отдаём наружу
	Plan             Plan       `json:"plan"`
	Role             string     `json:"role"` // "owner" или "admin"
	LastRecoveryDate *time.Time `json:"last_recovery_date,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}
