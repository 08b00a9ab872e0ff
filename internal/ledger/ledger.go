// Package ledger содержит чистую арифметику ресурсного леджера бота:
// списание времени и энергии, пополнения и пороги. Никакого I/O —
// персистентность и блокировки лежат на оркестраторе.
package ledger

import "github.com/xela07ax/neurohost/internal/domain"

const (
	// BaseDrainFactor — множитель перевода cpu%*секунды в проценты энергии
	BaseDrainFactor = 0.02
	// IdleCPUThreshold — ниже этого CPU% бот считается простаивающим
	IdleCPUThreshold = 2.0
	// IdleDrainMultiplier — во сколько раз дешевле простой
	IdleDrainMultiplier = 0.2
	// LowTimeThreshold — остаток, при котором шлём предупреждение (10 минут)
	LowTimeThreshold = 600
)

// ApplyDrain списывает elapsed секунд времени и энергию по формуле
// (cpu/100) * elapsed * factor. Оба значения клампятся снизу нулём:
// повторные тики после депляции ничего не уводят в минус.
func ApplyDrain(b *domain.Bot, elapsedSeconds int64, cpuPercent float64) {
	if elapsedSeconds <= 0 {
		return
	}

	b.RemainingSeconds -= elapsedSeconds
	if b.RemainingSeconds < 0 {
		b.RemainingSeconds = 0
	}

	factor := BaseDrainFactor
	if cpuPercent < IdleCPUThreshold {
		factor *= IdleDrainMultiplier
	}

	drop := (cpuPercent / 100.0) * float64(elapsedSeconds) * factor
	b.PowerRemaining -= drop
	if b.PowerRemaining < 0 {
		b.PowerRemaining = 0
	}
}

// AddTime пополняет время и пропорциональную долю энергии. Отклоняет
// пополнение сверх потолка тарифа. Сбрасывает флаг предупреждения —
// начинается новый цикл депляции.
func AddTime(b *domain.Bot, limits domain.PlanLimit, seconds int64) error {
	if seconds <= 0 {
		return nil
	}
	if b.TotalSeconds+seconds > limits.MaxTotalSeconds {
		return domain.ErrPlanLimitExceeded
	}

	b.TotalSeconds += seconds
	b.RemainingSeconds += seconds

	// Энергия добавляется пропорционально доле тарифа, которую купило время
	added := (float64(seconds) / float64(limits.MaxTotalSeconds)) * 100.0
	if added > 100.0 {
		added = 100.0
	}
	b.PowerRemaining += added
	if b.PowerRemaining > b.PowerMax {
		b.PowerRemaining = b.PowerMax
	}

	b.WarnedLow = false
	return nil
}

// AddPower пополняет энергию с клампом по потолку тарифа.
func AddPower(b *domain.Bot, pct float64) {
	if pct <= 0 {
		return
	}
	b.PowerRemaining += pct
	if b.PowerRemaining > b.PowerMax {
		b.PowerRemaining = b.PowerMax
	}
}

// IsDepleted — любой из двух ресурсов выработан до нуля.
func IsDepleted(b *domain.Bot) bool {
	return b.RemainingSeconds <= 0 || b.PowerRemaining <= 0
}

// IsLow — время ещё есть, но его меньше порога предупреждения.
func IsLow(b *domain.Bot) bool {
	return b.RemainingSeconds > 0 && b.RemainingSeconds <= LowTimeThreshold
}

// ChargeRestart списывает стоимость авто-рестарта (оба ресурса с полом в ноль).
func ChargeRestart(b *domain.Bot, powerCost float64, timeCost int64) {
	b.PowerRemaining -= powerCost
	if b.PowerRemaining < 0 {
		b.PowerRemaining = 0
	}
	b.RemainingSeconds -= timeCost
	if b.RemainingSeconds < 0 {
		b.RemainingSeconds = 0
	}
}
