// Package aggregator owns the per-site status: it merges batch
// usage/price refreshes with realtime telemetry into one snapshot.
package aggregator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"tibberwatch/internal/prices"
	"tibberwatch/pkg/models"
)

// UsageSource fetches month-to-date consumption and today's spot prices
// for a vendor home ID.
type UsageSource interface {
	MonthToDate(ctx context.Context, homeID string) ([]models.ConsumptionRecord, []models.SpotPrice, error)
}

// Site describes one monitored location.
type Site struct {
	Name   string
	HomeID string

	// SupportEligible sites get the price support calculation; others
	// are fed the ineligible usage sentinel so the cutoff always fails.
	SupportEligible bool

	// BurstyProduction sites report production intermittently; a zero
	// power reading there means "net producing" or "gap in telemetry",
	// never an actual zero.
	BurstyProduction bool
}

type siteState struct {
	site   Site
	status models.SiteStatus

	// lastDerivedPower remembers the production-derived net power so
	// telemetry gaps do not surface as a false zero.
	lastDerivedPower float64

	lastSampleAt  time.Time
	lastForwardAt time.Time
}

// Aggregator holds all site state. Refreshes build a full replacement
// off-lock and swap it in, so readers never observe a half-updated
// price table.
type Aggregator struct {
	source     UsageSource
	tariff     prices.Tariff
	loc        *time.Location
	minForward time.Duration
	logger     *zap.Logger

	now func() time.Time

	mu       sync.Mutex
	byName   map[string]*siteState
	byHomeID map[string]string // home ID -> site name
	order    []string
	started  time.Time
}

// New creates an aggregator with zeroed status for each site.
func New(source UsageSource, tariff prices.Tariff, loc *time.Location, minForward time.Duration, sites []Site, logger *zap.Logger) *Aggregator {
	a := &Aggregator{
		source:     source,
		tariff:     tariff,
		loc:        loc,
		minForward: minForward,
		logger:     logger,
		now:        time.Now,
		byName:     make(map[string]*siteState, len(sites)),
		byHomeID:   make(map[string]string, len(sites)),
	}
	for _, s := range sites {
		a.byName[s.Name] = &siteState{site: s, status: models.NewSiteStatus()}
		a.byHomeID[s.HomeID] = s.Name
		a.order = append(a.order, s.Name)
	}
	a.started = a.now()
	return a
}

// SiteNames returns the configured site names in config order.
func (a *Aggregator) SiteNames() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// SiteByHomeID resolves a vendor home ID back to a site name.
func (a *Aggregator) SiteByHomeID(homeID string) (string, bool) {
	name, ok := a.byHomeID[homeID]
	return name, ok
}

// Refresh fetches month-to-date usage and today's prices for one site
// and rebuilds its price table and cost rollups. On any error the
// site's previous status is left untouched.
func (a *Aggregator) Refresh(ctx context.Context, name string) error {
	st, ok := a.byName[name]
	if !ok {
		return fmt.Errorf("unknown site %q", name)
	}

	records, spot, err := a.source.MonthToDate(ctx, st.site.HomeID)
	if err != nil {
		return fmt.Errorf("fetching usage for %s: %w", name, err)
	}

	now := a.now().In(a.loc)
	startOfMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, a.loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
	startOfHour := now.Truncate(time.Hour)

	// Sum first, round once.
	monthSoFar := sumConsumption(records, startOfMonth, now)
	todayUpToThisHour := sumConsumption(records, startOfDay, startOfHour)

	usageForCalc := monthSoFar
	if !st.site.SupportEligible {
		usageForCalc = prices.IneligibleUsageKWh
	}

	priceTable := make(map[int]models.EffectivePrice, len(spot))
	for _, p := range spot {
		t := p.StartsAt.In(a.loc)
		transportCost := a.tariff.TransportCostAt(t)
		energyAfterSupport := a.tariff.PriceAfterSupport(p.Energy, usageForCalc) + p.Tax
		priceTable[t.Hour()] = models.EffectivePrice{
			Energy:             p.Energy,
			Tax:                p.Tax,
			TransportCost:      transportCost,
			EnergyAfterSupport: energyAfterSupport,
			TotalAfterSupport:  energyAfterSupport + transportCost,
		}
	}

	usageForDay := make(map[int]models.HourCost)
	lastHourSeen := 0
	for _, r := range records {
		from := r.From.In(a.loc)
		if !sameDay(from, now) {
			continue
		}
		hour := from.Hour()
		if hour > lastHourSeen {
			lastHourSeen = hour
		}
		price, ok := priceTable[hour]
		if !ok {
			a.logger.Warn("no price for elapsed hour, skipping cost",
				zap.String("site", name), zap.Int("hour", hour))
			continue
		}
		energyCost := price.EnergyAfterSupport * r.ConsumptionKWh
		transportCost := price.TransportCost * r.ConsumptionKWh
		usageForDay[hour] = models.HourCost{
			ConsumptionKWh: r.ConsumptionKWh,
			EnergyCost:     energyCost,
			TransportCost:  transportCost,
			TotalCost:      energyCost + transportCost,
		}
	}

	// Everything is computed; now swap it in as one unit.
	a.mu.Lock()
	defer a.mu.Unlock()
	st.status.Month.ConsumptionKWh = monthSoFar
	st.status.Prices = priceTable
	st.status.UsageForDay = usageForDay
	st.status.UsageForTodayUpToThisHour = todayUpToThisHour
	st.status.UsageForTodayLastHourSeen = lastHourSeen
	st.status.CurrentPrice = priceTable[now.Hour()]

	a.logger.Info("usage refreshed",
		zap.String("site", name),
		zap.Float64("month_kwh", monthSoFar),
		zap.Int("price_hours", len(priceTable)),
		zap.Int("cost_hours", len(usageForDay)))
	return nil
}

// IngestSample folds one realtime telemetry reading into the site
// status. Samples may arrive many times per second; the forward
// timestamp only advances at the configured minimum interval.
func (a *Aggregator) IngestSample(name string, sample models.RealtimeSample) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.byName[name]
	if !ok {
		return fmt.Errorf("unknown site %q", name)
	}

	power := sample.Power
	if st.site.BurstyProduction && power == 0 {
		if sample.PowerProduction.OK {
			power = -sample.PowerProduction.Value
			st.lastDerivedPower = power
		} else {
			// Telemetry gap: reuse the remembered derived value
			// instead of reporting a false zero.
			power = st.lastDerivedPower
		}
	}

	st.status.Power = power
	st.status.MinPower = sample.MinPower
	st.status.AveragePower = sample.AveragePower
	st.status.MaxPower = sample.MaxPower
	st.status.Day.ConsumptionKWh = sample.AccumulatedConsumption - sample.AccumulatedProduction
	st.status.Day.ProductionKWh = sample.AccumulatedProduction
	st.status.Day.CostTotal = a.estimateDaySpend(st, sample)

	now := a.now()
	st.lastSampleAt = now
	if st.lastForwardAt.IsZero() || now.Sub(st.lastForwardAt) >= a.minForward {
		st.lastForwardAt = now
	}
	return nil
}

// estimateDaySpend approximates today's cost so far: the exact sums for
// fully metered hours plus the unaccounted realtime consumption at the
// current effective price. Not exact.
func (a *Aggregator) estimateDaySpend(st *siteState, sample models.RealtimeSample) float64 {
	var meteredCost float64
	for _, u := range st.status.UsageForDay {
		meteredCost += u.TotalCost
	}
	unaccounted := sample.AccumulatedConsumption - st.status.UsageForTodayUpToThisHour
	if unaccounted < 0 {
		unaccounted = 0
	}
	return meteredCost + unaccounted*st.status.CurrentPrice.TotalAfterSupport
}

// Snapshot returns a deep copy of every site's status keyed by name.
func (a *Aggregator) Snapshot() map[string]models.SiteStatus {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[string]models.SiteStatus, len(a.byName))
	for name, st := range a.byName {
		out[name] = st.status.Clone()
	}
	return out
}

// SampleAges returns the time since the last accepted realtime sample
// per site. Sites that have never delivered a sample report the age
// since the aggregator started, so the staleness watchdog still fires
// when a feed never comes up.
func (a *Aggregator) SampleAges() map[string]time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	out := make(map[string]time.Duration, len(a.byName))
	for name, st := range a.byName {
		since := st.lastSampleAt
		if since.IsZero() {
			since = a.started
		}
		out[name] = now.Sub(since)
	}
	return out
}

// LastForwardAt returns when a realtime update last became eligible for
// forwarding to the published snapshot.
func (a *Aggregator) LastForwardAt(name string) (time.Time, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.byName[name]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown site %q", name)
	}
	return st.lastForwardAt, nil
}

// sumConsumption totals records whose start falls within [from, to],
// rounded to the nearest whole kWh.
func sumConsumption(records []models.ConsumptionRecord, from, to time.Time) float64 {
	var total float64
	for _, r := range records {
		if r.From.Before(from) || r.From.After(to) {
			continue
		}
		total += r.ConsumptionKWh
	}
	return math.Round(total)
}

func sameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}
