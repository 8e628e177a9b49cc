package aggregator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tibberwatch/internal/prices"
	"tibberwatch/pkg/models"
)

type fakeSource struct {
	records []models.ConsumptionRecord
	spot    []models.SpotPrice
	err     error
	calls   int
}

func (f *fakeSource) MonthToDate(ctx context.Context, homeID string) ([]models.ConsumptionRecord, []models.SpotPrice, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.records, f.spot, nil
}

func osloLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)
	return loc
}

// Tuesday July 9 2024, 14:30 in Oslo.
func fixedNow(loc *time.Location) time.Time {
	return time.Date(2024, time.July, 9, 14, 30, 0, 0, loc)
}

func testSites() []Site {
	return []Site{
		{Name: "home", HomeID: "home-id-1", SupportEligible: true},
		{Name: "cabin", HomeID: "cabin-id-2", SupportEligible: false, BurstyProduction: true},
	}
}

func newTestAggregator(t *testing.T, source UsageSource) (*Aggregator, *time.Location) {
	t.Helper()
	loc := osloLocation(t)
	agg := New(source, prices.Default(), loc, 15*time.Second, testSites(), zap.NewNop())
	now := fixedNow(loc)
	agg.now = func() time.Time { return now }
	agg.started = now
	return agg, loc
}

// hourlyRecords returns count hourly records starting at start, each
// with the given consumption.
func hourlyRecords(start time.Time, count int, kwh float64) []models.ConsumptionRecord {
	out := make([]models.ConsumptionRecord, 0, count)
	for i := 0; i < count; i++ {
		from := start.Add(time.Duration(i) * time.Hour)
		out = append(out, models.ConsumptionRecord{
			From:           from,
			To:             from.Add(time.Hour),
			ConsumptionKWh: kwh,
		})
	}
	return out
}

func todaySpot(loc *time.Location, energy, tax float64) []models.SpotPrice {
	day := time.Date(2024, time.July, 9, 0, 0, 0, 0, loc)
	out := make([]models.SpotPrice, 0, 24)
	for h := 0; h < 24; h++ {
		out = append(out, models.SpotPrice{
			StartsAt: day.Add(time.Duration(h) * time.Hour),
			Energy:   energy,
			Tax:      tax,
		})
	}
	return out
}

func TestRefreshBuildsPriceTableAndRollups(t *testing.T) {
	loc := osloLocation(t)
	startOfDay := time.Date(2024, time.July, 9, 0, 0, 0, 0, loc)
	earlier := time.Date(2024, time.July, 5, 10, 0, 0, 0, loc)

	src := &fakeSource{
		// 14 elapsed hours today at 2 kWh plus one big earlier record.
		records: append(
			hourlyRecords(startOfDay, 14, 2.0),
			models.ConsumptionRecord{From: earlier, To: earlier.Add(time.Hour), ConsumptionKWh: 100.4},
		),
		spot: todaySpot(loc, 1.0, 0.125),
	}
	agg, _ := newTestAggregator(t, src)

	require.NoError(t, agg.Refresh(context.Background(), "home"))
	status := agg.Snapshot()["home"]

	// Sum first, round once: 28 + 100.4 = 128.4 -> 128.
	assert.Equal(t, 128.0, status.Month.ConsumptionKWh)
	assert.Equal(t, 28.0, status.UsageForTodayUpToThisHour)
	assert.Equal(t, 13, status.UsageForTodayLastHourSeen)
	assert.Len(t, status.Prices, 24)
	assert.Len(t, status.UsageForDay, 14)

	tariff := prices.Default()
	// Hour 14, Tuesday in July: summer day transport fee.
	p := status.Prices[14]
	assert.InDelta(t, tariff.SummerDay, p.TransportCost, 1e-9)
	// Support on the energy component: (1.0-0.7)*0.9 = 0.27 discount.
	assert.InDelta(t, 0.73+0.125, p.EnergyAfterSupport, 1e-9)
	assert.InDelta(t, p.EnergyAfterSupport+p.TransportCost, p.TotalAfterSupport, 1e-9)
	assert.Equal(t, p, status.CurrentPrice)

	// Invariant: support never increases the price.
	for h, ep := range status.Prices {
		assert.LessOrEqual(t, ep.EnergyAfterSupport, ep.Energy+ep.Tax, "hour %d", h)
		assert.InDelta(t, ep.EnergyAfterSupport+ep.TransportCost, ep.TotalAfterSupport, 1e-9, "hour %d", h)
	}

	// Cost legs for an elapsed hour.
	hc := status.UsageForDay[13]
	night := status.Prices[13]
	assert.InDelta(t, night.EnergyAfterSupport*2.0, hc.EnergyCost, 1e-9)
	assert.InDelta(t, night.TransportCost*2.0, hc.TransportCost, 1e-9)
	assert.InDelta(t, hc.EnergyCost+hc.TransportCost, hc.TotalCost, 1e-9)
}

func TestRefreshIneligibleSiteGetsNoSupport(t *testing.T) {
	loc := osloLocation(t)
	src := &fakeSource{spot: todaySpot(loc, 1.0, 0.125)}
	agg, _ := newTestAggregator(t, src)

	require.NoError(t, agg.Refresh(context.Background(), "cabin"))
	p := agg.Snapshot()["cabin"].Prices[14]

	// Usage is far below the cutoff (zero), but the site is flagged
	// ineligible, so the energy price is untouched.
	assert.InDelta(t, 1.0+0.125, p.EnergyAfterSupport, 1e-9)
}

func TestRefreshFailureLeavesStatusUntouched(t *testing.T) {
	loc := osloLocation(t)
	startOfDay := time.Date(2024, time.July, 9, 0, 0, 0, 0, loc)
	src := &fakeSource{
		records: hourlyRecords(startOfDay, 5, 1.5),
		spot:    todaySpot(loc, 0.9, 0.1),
	}
	agg, _ := newTestAggregator(t, src)
	require.NoError(t, agg.Refresh(context.Background(), "home"))
	before := agg.Snapshot()

	src.err = errors.New("api down")
	err := agg.Refresh(context.Background(), "home")
	require.Error(t, err)

	assert.Equal(t, before, agg.Snapshot())
}

func TestRefreshUnknownSite(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})
	assert.Error(t, agg.Refresh(context.Background(), "garage"))
}

func TestSnapshotIsIdempotentAndIsolated(t *testing.T) {
	loc := osloLocation(t)
	src := &fakeSource{spot: todaySpot(loc, 0.5, 0.1)}
	agg, _ := newTestAggregator(t, src)
	require.NoError(t, agg.Refresh(context.Background(), "home"))

	first := agg.Snapshot()
	second := agg.Snapshot()
	assert.Equal(t, first, second)

	// Mutating a snapshot must not leak back into the aggregator.
	first["home"].Prices[3] = models.EffectivePrice{Energy: 99}
	delete(first["home"].UsageForDay, 0)
	assert.Equal(t, second, agg.Snapshot())
}

func sample(power, accCons, accProd float64) models.RealtimeSample {
	return models.RealtimeSample{
		Power:                  power,
		AccumulatedConsumption: accCons,
		AccumulatedProduction:  accProd,
		MinPower:               100,
		AveragePower:           500,
		MaxPower:               2000,
	}
}

func TestIngestSampleUpdatesStatus(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})

	s := sample(1234, 10.5, 0.5)
	require.NoError(t, agg.IngestSample("home", s))

	status := agg.Snapshot()["home"]
	assert.Equal(t, 1234.0, status.Power)
	assert.Equal(t, 10.0, status.Day.ConsumptionKWh)
	assert.Equal(t, 0.5, status.Day.ProductionKWh)
	assert.Equal(t, 100.0, status.MinPower)
	assert.Equal(t, 500.0, status.AveragePower)
	assert.Equal(t, 2000.0, status.MaxPower)
}

func TestIngestSampleUnknownSite(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})
	assert.Error(t, agg.IngestSample("garage", sample(1, 0, 0)))
}

func TestBurstyProductionNetPower(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})

	// Zero power with a production reading becomes negative net power.
	s := sample(0, 5, 2)
	s.PowerProduction = models.SomeReading(150)
	require.NoError(t, agg.IngestSample("cabin", s))
	assert.Equal(t, -150.0, agg.Snapshot()["cabin"].Power)

	// Zero power with no production reading reuses the derived value.
	require.NoError(t, agg.IngestSample("cabin", sample(0, 5, 2)))
	assert.Equal(t, -150.0, agg.Snapshot()["cabin"].Power)

	// Non-zero power is taken as-is.
	require.NoError(t, agg.IngestSample("cabin", sample(800, 5, 2)))
	assert.Equal(t, 800.0, agg.Snapshot()["cabin"].Power)
}

func TestBurstyRuleDoesNotApplyToEligibleSite(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})

	s := sample(0, 5, 0)
	s.PowerProduction = models.SomeReading(150)
	require.NoError(t, agg.IngestSample("home", s))
	assert.Equal(t, 0.0, agg.Snapshot()["home"].Power)
}

func TestForwardRateLimit(t *testing.T) {
	agg, loc := newTestAggregator(t, &fakeSource{})
	start := fixedNow(loc)
	current := start
	agg.now = func() time.Time { return current }

	// Samples every second for 20 seconds.
	for i := 0; i <= 20; i++ {
		current = start.Add(time.Duration(i) * time.Second)
		require.NoError(t, agg.IngestSample("home", sample(float64(1000+i), 1, 0)))

		// In-memory power always reflects the latest sample.
		assert.Equal(t, float64(1000+i), agg.Snapshot()["home"].Power)

		forwardAt, err := agg.LastForwardAt("home")
		require.NoError(t, err)
		if i < 15 {
			assert.Equal(t, start, forwardAt, "sample %d", i)
		} else {
			assert.Equal(t, start.Add(15*time.Second), forwardAt, "sample %d", i)
		}
	}
}

func TestSampleAges(t *testing.T) {
	agg, loc := newTestAggregator(t, &fakeSource{})
	start := fixedNow(loc)
	current := start
	agg.now = func() time.Time { return current }
	agg.started = start

	require.NoError(t, agg.IngestSample("home", sample(100, 1, 0)))

	current = start.Add(45 * time.Second)
	ages := agg.SampleAges()
	assert.Equal(t, 45*time.Second, ages["home"])
	// Cabin never delivered a sample; age counts from startup.
	assert.Equal(t, 45*time.Second, ages["cabin"])
}

func TestSiteByHomeID(t *testing.T) {
	agg, _ := newTestAggregator(t, &fakeSource{})

	name, ok := agg.SiteByHomeID("cabin-id-2")
	require.True(t, ok)
	assert.Equal(t, "cabin", name)

	_, ok = agg.SiteByHomeID("nope")
	assert.False(t, ok)
}
