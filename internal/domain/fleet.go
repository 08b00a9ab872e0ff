package domain

// FleetStats — агрегат по всему парку для админского дашборда.
type FleetStats struct {
	TotalBots    int `json:"total_bots"`
	RunningBots  int `json:"running_bots"`
	SleepingBots int `json:"sleeping_bots"`

	// Сумма остатков по парку — грубая оценка нагрузки на площадку
	TotalRemainingHours float64 `json:"total_remaining_hours"`
	AvgPowerRemaining   float64 `json:"avg_power_remaining"`

	RestartsLastHour int `json:"restarts_last_hour"`
}
