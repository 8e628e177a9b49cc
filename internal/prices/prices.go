// Package prices implements the tariff calculation: grid transport fees
// by season and time of day, and the government price support scheme.
package prices

import "time"

// IneligibleUsageKWh is passed as month-to-date usage for sites that never
// qualify for price support. It sits far above any real cutoff, so the
// eligibility check fails without a special code path.
const IneligibleUsageKWh = 999999

// Tariff holds the fee table and support thresholds. All values are in
// currency units per kWh unless noted. Zero value is not usable; start
// from Default and override from config.
type Tariff struct {
	SupportCutoffKWh  float64 // no support at or above this monthly usage
	SupportEntryPrice float64 // support applies only above this price
	SupportRate       float64 // fraction of the excess covered, 0..1

	WinterNightOrWeekend float64
	WinterDay            float64
	SummerNightOrWeekend float64
	SummerDay            float64

	// WinterMonths selects which months use the winter column of the
	// fee table. The grid operator's published table only distinguishes
	// two seasons.
	WinterMonths map[time.Month]bool
}

// Default returns the tariff currently published by the grid operator.
func Default() Tariff {
	return Tariff{
		SupportCutoffKWh:     5000,
		SupportEntryPrice:    0.7,
		SupportRate:          0.9,
		WinterNightOrWeekend: 0.2895,
		WinterDay:            0.352,
		SummerNightOrWeekend: 0.373,
		SummerDay:            0.4355,
		WinterMonths: map[time.Month]bool{
			time.January:  true,
			time.February: true,
			time.March:    true,
		},
	}
}

// TransportCostAt returns the per-kWh grid transport fee for the given
// time. The time must already be in the billing time zone; hour and
// weekday classification is done on the value as passed.
func (t Tariff) TransportCostAt(when time.Time) float64 {
	if t.isWinter(when) {
		if t.isNightOrWeekend(when) {
			return t.WinterNightOrWeekend
		}
		return t.WinterDay
	}
	if t.isNightOrWeekend(when) {
		return t.SummerNightOrWeekend
	}
	return t.SummerDay
}

// PriceAfterSupport applies the support scheme to a raw per-kWh price.
// Support is granted only below the monthly usage cutoff and only on the
// portion of the price above the entry threshold. The result is never
// negative and never exceeds the raw price.
func (t Tariff) PriceAfterSupport(rawPrice, usedThisMonthKWh float64) float64 {
	support := 0.0
	if usedThisMonthKWh < t.SupportCutoffKWh && rawPrice > t.SupportEntryPrice {
		support = (rawPrice - t.SupportEntryPrice) * t.SupportRate
	}
	if support < 0 {
		support = 0
	}
	return rawPrice - support
}

// FullPriceAt returns the all-in per-kWh price: spot plus transport fee,
// with support applied to the sum.
func (t Tariff) FullPriceAt(spotPrice float64, when time.Time, usedThisMonthKWh float64) float64 {
	return t.PriceAfterSupport(spotPrice+t.TransportCostAt(when), usedThisMonthKWh)
}

func (t Tariff) isNightOrWeekend(when time.Time) bool {
	day := when.Weekday()
	if day == time.Saturday || day == time.Sunday {
		return true
	}
	hour := when.Hour()
	return hour <= 5 || hour >= 22
}

func (t Tariff) isWinter(when time.Time) bool {
	return t.WinterMonths[when.Month()]
}
