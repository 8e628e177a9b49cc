package tibber

import (
	"encoding/json"
	"fmt"
	"time"

	"tibberwatch/pkg/models"
)

// usageResponse mirrors the GraphQL usage query result.
type usageResponse struct {
	Data struct {
		Viewer struct {
			Home struct {
				ID          string `json:"id"`
				Consumption struct {
					Nodes []consumptionNode `json:"nodes"`
				} `json:"consumption"`
				CurrentSubscription struct {
					Status    string `json:"status"`
					PriceInfo struct {
						Today []priceNode `json:"today"`
					} `json:"priceInfo"`
				} `json:"currentSubscription"`
			} `json:"home"`
		} `json:"viewer"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type consumptionNode struct {
	From         string   `json:"from"`
	To           string   `json:"to"`
	UnitPrice    float64  `json:"unitPrice"`
	UnitPriceVAT float64  `json:"unitPriceVAT"`
	Consumption  *float64 `json:"consumption"` // null for hours not yet metered
}

type priceNode struct {
	Total    float64 `json:"total"`
	Energy   float64 `json:"energy"`
	Tax      float64 `json:"tax"`
	StartsAt string  `json:"startsAt"`
}

// liveMeasurement is the raw subscription frame. Every field is a
// pointer so schema validation can tell a missing field from a zero.
type liveMeasurement struct {
	Timestamp              *string  `json:"timestamp"`
	Power                  *float64 `json:"power"`
	AccumulatedConsumption *float64 `json:"accumulatedConsumption"`
	AccumulatedProduction  *float64 `json:"accumulatedProduction"`
	AccumulatedCost        *float64 `json:"accumulatedCost"`
	AccumulatedReward      *float64 `json:"accumulatedReward"`
	MinPower               *float64 `json:"minPower"`
	AveragePower           *float64 `json:"averagePower"`
	MaxPower               *float64 `json:"maxPower"`
	PowerProduction        *float64 `json:"powerProduction"`
	MinPowerProduction     *float64 `json:"minPowerProduction"`
	MaxPowerProduction     *float64 `json:"maxPowerProduction"`
}

// ParseSample validates a raw liveMeasurement frame against the fixed
// schema and converts it to the internal sample type. Power, the
// accumulated counters and the min/avg/max figures are required;
// production-related fields may be null.
func ParseSample(raw json.RawMessage) (models.RealtimeSample, error) {
	var lm liveMeasurement
	if err := json.Unmarshal(raw, &lm); err != nil {
		return models.RealtimeSample{}, fmt.Errorf("decoding live measurement: %w", err)
	}

	required := map[string]bool{
		"timestamp":              lm.Timestamp != nil,
		"power":                  lm.Power != nil,
		"accumulatedConsumption": lm.AccumulatedConsumption != nil,
		"accumulatedProduction":  lm.AccumulatedProduction != nil,
		"minPower":               lm.MinPower != nil,
		"averagePower":           lm.AveragePower != nil,
		"maxPower":               lm.MaxPower != nil,
	}
	for field, present := range required {
		if !present {
			return models.RealtimeSample{}, fmt.Errorf("live measurement missing required field %q", field)
		}
	}

	ts, err := time.Parse(time.RFC3339, *lm.Timestamp)
	if err != nil {
		return models.RealtimeSample{}, fmt.Errorf("parsing timestamp: %w", err)
	}

	sample := models.RealtimeSample{
		Timestamp:              ts,
		Power:                  *lm.Power,
		AccumulatedConsumption: *lm.AccumulatedConsumption,
		AccumulatedProduction:  *lm.AccumulatedProduction,
		MinPower:               *lm.MinPower,
		AveragePower:           *lm.AveragePower,
		MaxPower:               *lm.MaxPower,
	}
	if lm.AccumulatedCost != nil {
		sample.AccumulatedCost = models.SomeReading(*lm.AccumulatedCost)
	}
	if lm.AccumulatedReward != nil {
		sample.AccumulatedReward = models.SomeReading(*lm.AccumulatedReward)
	}
	if lm.PowerProduction != nil {
		sample.PowerProduction = models.SomeReading(*lm.PowerProduction)
	}
	if lm.MinPowerProduction != nil {
		sample.MinPowerProduction = models.SomeReading(*lm.MinPowerProduction)
	}
	if lm.MaxPowerProduction != nil {
		sample.MaxPowerProduction = models.SomeReading(*lm.MaxPowerProduction)
	}
	return sample, nil
}
