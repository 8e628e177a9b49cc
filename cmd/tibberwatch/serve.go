package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tibberwatch/internal/aggregator"
	"tibberwatch/internal/archive"
	"tibberwatch/internal/config"
	"tibberwatch/internal/httpapi"
	"tibberwatch/internal/logging"
	"tibberwatch/internal/metrics"
	"tibberwatch/internal/publisher"
	"tibberwatch/internal/tibber"
	"tibberwatch/pkg/models"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the watcher daemon",
	Long: `Starts the long-running watcher: periodic usage/price refresh,
realtime telemetry feeds, snapshot publishing to MQTT, and the debug
HTTP endpoint. Exits non-zero when realtime data goes stale so a
process supervisor can restart it.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

const watchdogCheckInterval = 5 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := logging.NewLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	// Fail fast before any wiring.
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client := tibber.NewClient(cfg.GetAPIURL(), cfg.Tibber.Token, loc)

	sites := make([]aggregator.Site, 0, len(cfg.Tibber.Sites))
	for _, s := range cfg.Tibber.Sites {
		sites = append(sites, aggregator.Site{
			Name:             s.Name,
			HomeID:           s.HomeID,
			SupportEligible:  s.SupportEligible,
			BurstyProduction: s.BurstyProduction,
		})
	}

	agg := aggregator.New(client, cfg.BuildTariff(), loc, cfg.GetMinForwardInterval(), sites, logger)
	m := metrics.New()

	pub, err := publisher.New(cfg.MQTT, cfg.GetRootTopic(), logger)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	defer pub.Close()

	var arch *archive.DB
	if cfg.Archive.Enabled {
		arch, err = archive.New(cfg.GetArchivePath())
		if err != nil {
			return fmt.Errorf("opening archive: %w", err)
		}
		defer arch.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)

	if cfg.HTTP.Bind != "" {
		srv := httpapi.NewServer(cfg.HTTP.Bind, agg, m.Handler(), logger)
		go func() {
			if err := srv.Start(); err != nil {
				errCh <- fmt.Errorf("debug http server: %w", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Stop(shutdownCtx)
		}()
	}

	startFeeds(ctx, cfg, agg, m, logger)

	refreshAll(ctx, cfg, agg, arch, m, loc, logger)

	refreshTicker := time.NewTicker(cfg.GetRefreshInterval())
	defer refreshTicker.Stop()
	publishTicker := time.NewTicker(cfg.GetPublishInterval())
	defer publishTicker.Stop()
	watchdogTicker := time.NewTicker(watchdogCheckInterval)
	defer watchdogTicker.Stop()

	started := time.Now()
	maxAge := cfg.GetMaxSampleAge()
	grace := cfg.GetWatchdogGrace()

	logger.Info("tibberwatch started",
		zap.Int("sites", len(sites)),
		zap.Duration("refresh", cfg.GetRefreshInterval()),
		zap.Duration("publish", cfg.GetPublishInterval()))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil

		case err := <-errCh:
			return err

		case <-refreshTicker.C:
			refreshAll(ctx, cfg, agg, arch, m, loc, logger)

		case <-publishTicker.C:
			publishAll(agg, pub, m, logger)

		case <-watchdogTicker.C:
			if err := checkStaleness(agg, m, started, grace, maxAge); err != nil {
				// Fatal on purpose: the supervisor restarts us rather
				// than letting stale data be published forever.
				logger.Error("realtime data stale", zap.Error(err))
				return err
			}
		}
	}
}

// startFeeds launches one realtime subscription per site, with a small
// random delay so reconnect storms do not hammer the vendor API.
func startFeeds(ctx context.Context, cfg *config.Config, agg *aggregator.Aggregator, m *metrics.Metrics, logger *zap.Logger) {
	for _, s := range cfg.Tibber.Sites {
		site := s
		onSample := func(sample models.RealtimeSample) {
			if err := agg.IngestSample(site.Name, sample); err != nil {
				logger.Warn("ingesting sample", zap.String("site", site.Name), zap.Error(err))
				return
			}
			m.SampleAccepted(site.Name, sample.Power)
		}

		feed := tibber.NewFeed(cfg.GetWSURL(), cfg.Tibber.Token, site.HomeID, onSample, logger)
		feed.OnInvalid = func(error) { m.SampleRejected() }

		go func() {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(rand.Intn(5000)) * time.Millisecond):
			}
			feed.Run(ctx)
		}()
	}
}

// refreshAll refreshes every site. A failed site keeps its previous
// status; the next ticker cycle is the retry.
func refreshAll(ctx context.Context, cfg *config.Config, agg *aggregator.Aggregator, arch *archive.DB, m *metrics.Metrics, loc *time.Location, logger *zap.Logger) {
	for _, name := range agg.SiteNames() {
		err := agg.Refresh(ctx, name)
		m.Refresh(name, err)
		if err != nil {
			logger.Warn("refresh failed, keeping previous status",
				zap.String("site", name), zap.Error(err))
			continue
		}
		if arch != nil {
			archiveToday(arch, agg, name, loc, logger)
		}
	}
}

// archiveToday writes the refreshed per-hour cost rows for today.
func archiveToday(arch *archive.DB, agg *aggregator.Aggregator, name string, loc *time.Location, logger *zap.Logger) {
	status, ok := agg.Snapshot()[name]
	if !ok {
		return
	}
	now := time.Now().In(loc)
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	for hour, cost := range status.UsageForDay {
		hourStart := startOfDay.Add(time.Duration(hour) * time.Hour)
		if err := arch.UpsertHour(name, hourStart, cost); err != nil {
			logger.Warn("archiving hour", zap.String("site", name), zap.Int("hour", hour), zap.Error(err))
		}
	}
}

// publishAll pushes the current snapshot for every site.
func publishAll(agg *aggregator.Aggregator, pub *publisher.Publisher, m *metrics.Metrics, logger *zap.Logger) {
	for site, status := range agg.Snapshot() {
		err := pub.PublishStatus(site, status)
		m.Publish(err)
		if err != nil {
			logger.Warn("publishing snapshot", zap.String("site", site), zap.Error(err))
		}
	}
}

// checkStaleness updates the age gauges and errors once any site has
// gone longer than maxAge without an accepted sample.
func checkStaleness(agg *aggregator.Aggregator, m *metrics.Metrics, started time.Time, grace, maxAge time.Duration) error {
	if time.Since(started) < grace {
		return nil
	}
	for site, age := range agg.SampleAges() {
		m.SetSampleAge(site, age.Seconds())
		if age > maxAge {
			return fmt.Errorf("no realtime sample for %s in %s (max %s)", site, age.Round(time.Second), maxAge)
		}
	}
	return nil
}
