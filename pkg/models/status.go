package models

// EffectivePrice is the per-kWh price breakdown for one hour of the day.
type EffectivePrice struct {
	Energy             float64 `json:"energy"`
	Tax                float64 `json:"tax"`
	TransportCost      float64 `json:"transportCost"`
	EnergyAfterSupport float64 `json:"energyAfterSupport"` // energy plus tax minus support
	TotalAfterSupport  float64 `json:"totalAfterSupport"`  // what we actually pay
}

// HourCost is the actual cost breakdown for one elapsed hour of today.
type HourCost struct {
	ConsumptionKWh float64 `json:"consumption"`
	EnergyCost     float64 `json:"energyIncVat"`
	TransportCost  float64 `json:"transportIncVat"`
	TotalCost      float64 `json:"totalIncVat"`
}

// PeriodTotals holds accumulated figures for a rollup period (day or month).
type PeriodTotals struct {
	ConsumptionKWh float64 `json:"accumulatedConsumption"`
	ProductionKWh  float64 `json:"accumulatedProduction"`
	CostTotal      float64 `json:"accumulatedCost"`
}

// SiteStatus is the consolidated snapshot for one monitored site.
// It is owned by the aggregator; consumers only ever see copies.
type SiteStatus struct {
	Power        float64      `json:"power"`
	Day          PeriodTotals `json:"day"`
	Month        PeriodTotals `json:"month"`
	MinPower     float64      `json:"minPower"`
	AveragePower float64      `json:"averagePower"`
	MaxPower     float64      `json:"maxPower"`

	// UsageForDay maps hour-of-day to the actual cost for that hour,
	// present only for hours that already have a consumption record.
	UsageForDay map[int]HourCost `json:"usageForDay"`

	UsageForTodayLastHourSeen int     `json:"usageForTodayLastHourSeen"`
	UsageForTodayUpToThisHour float64 `json:"usageForTodayUpToThisHour"`

	// Prices maps hour-of-day to the effective price table for today.
	Prices map[int]EffectivePrice `json:"prices"`

	CurrentPrice EffectivePrice `json:"currentPrice"`
}

// NewSiteStatus returns a zeroed status with allocated maps.
func NewSiteStatus() SiteStatus {
	return SiteStatus{
		UsageForDay: make(map[int]HourCost),
		Prices:      make(map[int]EffectivePrice),
	}
}

// Clone returns a deep copy so callers can hand out snapshots safely.
func (s SiteStatus) Clone() SiteStatus {
	out := s
	out.UsageForDay = make(map[int]HourCost, len(s.UsageForDay))
	for h, u := range s.UsageForDay {
		out.UsageForDay[h] = u
	}
	out.Prices = make(map[int]EffectivePrice, len(s.Prices))
	for h, p := range s.Prices {
		out.Prices[h] = p
	}
	return out
}
