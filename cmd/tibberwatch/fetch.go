package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tibberwatch/internal/aggregator"
	"tibberwatch/internal/tibber"
)

var fetchSite string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch usage and prices once and print them",
	Long: `Runs one refresh cycle against the Tibber API and prints the
computed price table and hourly costs. Useful for checking credentials
and tariff configuration without a broker.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchSite, "site", "", "Only fetch this site")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Tibber.Token == "" {
		return fmt.Errorf("tibber token is required (config tibber.token or TIBBER_TOKEN)")
	}
	if len(cfg.Tibber.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	client := tibber.NewClient(cfg.GetAPIURL(), cfg.Tibber.Token, loc)

	sites := make([]aggregator.Site, 0, len(cfg.Tibber.Sites))
	for _, s := range cfg.Tibber.Sites {
		if fetchSite != "" && s.Name != fetchSite {
			continue
		}
		sites = append(sites, aggregator.Site{
			Name:             s.Name,
			HomeID:           s.HomeID,
			SupportEligible:  s.SupportEligible,
			BurstyProduction: s.BurstyProduction,
		})
	}
	if len(sites) == 0 {
		return fmt.Errorf("no site named %q in config", fetchSite)
	}

	agg := aggregator.New(client, cfg.BuildTariff(), loc, cfg.GetMinForwardInterval(), sites, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	for _, site := range sites {
		if err := agg.Refresh(ctx, site.Name); err != nil {
			return fmt.Errorf("refreshing %s: %w", site.Name, err)
		}
	}

	snapshot := agg.Snapshot()
	for _, site := range sites {
		status := snapshot[site.Name]

		fmt.Printf("\n%s (month so far: %.0f kWh)\n", site.Name, status.Month.ConsumptionKWh)
		fmt.Println("------------------------------------------------------------")
		fmt.Printf("%-5s  %10s  %10s  %10s  %10s\n", "Hour", "Energy", "Transport", "Total", "Cost")
		fmt.Println("------------------------------------------------------------")

		hours := make([]int, 0, len(status.Prices))
		for h := range status.Prices {
			hours = append(hours, h)
		}
		sort.Ints(hours)

		for _, h := range hours {
			p := status.Prices[h]
			cost := "-"
			if u, ok := status.UsageForDay[h]; ok {
				cost = fmt.Sprintf("%.2f", u.TotalCost)
			}
			fmt.Printf("%02d:00  %10.4f  %10.4f  %10.4f  %10s\n",
				h, p.EnergyAfterSupport, p.TransportCost, p.TotalAfterSupport, cost)
		}
	}

	return nil
}
