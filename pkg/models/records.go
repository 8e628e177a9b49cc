package models

import "time"

// ConsumptionRecord is one hour of metered usage as reported by the vendor API.
type ConsumptionRecord struct {
	From           time.Time `json:"from"`
	To             time.Time `json:"to"`
	ConsumptionKWh float64   `json:"consumption_kwh"`
	UnitPrice      float64   `json:"unit_price"`
}

// SpotPrice is the wholesale per-kWh price for one hour of the current day.
type SpotPrice struct {
	StartsAt time.Time `json:"starts_at"`
	Total    float64   `json:"total"`
	Energy   float64   `json:"energy"`
	Tax      float64   `json:"tax"`
}

// Reading is an optional telemetry value. Production counters are not
// reported by every meter, so absence must be distinguishable from zero.
type Reading struct {
	Value float64
	OK    bool
}

// SomeReading returns a present Reading.
func SomeReading(v float64) Reading {
	return Reading{Value: v, OK: true}
}

// RealtimeSample is one validated push-delivered telemetry reading.
type RealtimeSample struct {
	Timestamp              time.Time
	Power                  float64
	AccumulatedConsumption float64
	AccumulatedProduction  float64
	MinPower               float64
	AveragePower           float64
	MaxPower               float64
	AccumulatedCost        Reading
	AccumulatedReward      Reading
	PowerProduction        Reading
	MinPowerProduction     Reading
	MaxPowerProduction     Reading
}
