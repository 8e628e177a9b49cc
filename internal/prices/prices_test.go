package prices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustOslo(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return loc
}

func TestTransportCostAt(t *testing.T) {
	loc := mustOslo(t)
	tariff := Default()

	tests := []struct {
		name string
		when time.Time
		want float64
	}{
		{
			name: "winter night",
			// January 15 2024, 03:00 is a Monday night.
			when: time.Date(2024, time.January, 15, 3, 0, 0, 0, loc),
			want: tariff.WinterNightOrWeekend,
		},
		{
			name: "winter weekday day",
			when: time.Date(2024, time.January, 15, 12, 0, 0, 0, loc),
			want: tariff.WinterDay,
		},
		{
			name: "winter weekend day",
			// January 13 2024 is a Saturday.
			when: time.Date(2024, time.January, 13, 12, 0, 0, 0, loc),
			want: tariff.WinterNightOrWeekend,
		},
		{
			name: "summer weekday day",
			// July 10 2018, 14:00 is a Tuesday afternoon.
			when: time.Date(2018, time.July, 10, 14, 0, 0, 0, loc),
			want: tariff.SummerDay,
		},
		{
			name: "summer late evening",
			when: time.Date(2018, time.July, 10, 22, 0, 0, 0, loc),
			want: tariff.SummerNightOrWeekend,
		},
		{
			name: "summer early morning boundary",
			when: time.Date(2018, time.July, 10, 5, 59, 0, 0, loc),
			want: tariff.SummerNightOrWeekend,
		},
		{
			name: "summer first day hour",
			when: time.Date(2018, time.July, 10, 6, 0, 0, 0, loc),
			want: tariff.SummerDay,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tariff.TransportCostAt(tt.when), 1e-9)
		})
	}
}

func TestTransportCostAtReturnsOneOfFourConstants(t *testing.T) {
	loc := mustOslo(t)
	tariff := Default()
	valid := map[float64]bool{
		tariff.WinterNightOrWeekend: true,
		tariff.WinterDay:            true,
		tariff.SummerNightOrWeekend: true,
		tariff.SummerDay:            true,
	}

	when := time.Date(2024, time.January, 1, 0, 0, 0, 0, loc)
	for i := 0; i < 365*24; i++ {
		cost := tariff.TransportCostAt(when)
		require.True(t, valid[cost], "unexpected fee %v at %v", cost, when)
		// Determinism: same instant, same answer.
		require.Equal(t, cost, tariff.TransportCostAt(when))
		when = when.Add(time.Hour)
	}
}

func TestPriceAfterSupport(t *testing.T) {
	tariff := Default()

	t.Run("below entry price unchanged", func(t *testing.T) {
		assert.Equal(t, 0.5, tariff.PriceAfterSupport(0.5, 0))
		assert.Equal(t, 0.7, tariff.PriceAfterSupport(0.7, 0))
	})

	t.Run("above usage cutoff unchanged", func(t *testing.T) {
		assert.Equal(t, 2.5, tariff.PriceAfterSupport(2.5, 5000))
		assert.Equal(t, 2.5, tariff.PriceAfterSupport(2.5, 12000))
	})

	t.Run("ineligible sentinel unchanged", func(t *testing.T) {
		assert.Equal(t, 4.0, tariff.PriceAfterSupport(4.0, IneligibleUsageKWh))
	})

	t.Run("ninety percent over entry price", func(t *testing.T) {
		// support = (1.0 - 0.7) * 0.9 = 0.27
		assert.InDelta(t, 0.73, tariff.PriceAfterSupport(1.0, 4000), 1e-9)
	})

	t.Run("never negative never above raw", func(t *testing.T) {
		for _, raw := range []float64{0, 0.1, 0.7, 0.71, 1, 2, 5, 10} {
			for _, usage := range []float64{0, 100, 4999, 5000, IneligibleUsageKWh} {
				got := tariff.PriceAfterSupport(raw, usage)
				assert.GreaterOrEqual(t, got, 0.0)
				assert.LessOrEqual(t, got, raw)
			}
		}
	})
}

func TestFullPriceAt(t *testing.T) {
	loc := mustOslo(t)
	tariff := Default()

	// Tuesday July 10 2018 14:00: summer day fee 0.4355.
	when := time.Date(2018, time.July, 10, 14, 0, 0, 0, loc)

	t.Run("support applied to spot plus transport", func(t *testing.T) {
		base := 1.0 + tariff.SummerDay
		want := base - (base-tariff.SupportEntryPrice)*tariff.SupportRate
		assert.InDelta(t, want, tariff.FullPriceAt(1.0, when, 0), 1e-9)
	})

	t.Run("no support over cutoff", func(t *testing.T) {
		assert.InDelta(t, 1.0+tariff.SummerDay, tariff.FullPriceAt(1.0, when, 9000), 1e-9)
	})
}

func TestConfigurableWinterMonths(t *testing.T) {
	loc := mustOslo(t)
	tariff := Default()
	tariff.WinterMonths = map[time.Month]bool{time.December: true}

	december := time.Date(2024, time.December, 2, 12, 0, 0, 0, loc) // Monday
	january := time.Date(2025, time.January, 6, 12, 0, 0, 0, loc)   // Monday

	assert.Equal(t, tariff.WinterDay, tariff.TransportCostAt(december))
	assert.Equal(t, tariff.SummerDay, tariff.TransportCostAt(january))
}
