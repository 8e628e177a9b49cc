package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"tibberwatch/internal/archive"
)

var (
	historySite  string
	historyDate  string
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived hourly usage and cost",
	Long: `Displays hourly usage and cost rows from the local archive
written by the daemon (archive.enabled in config).`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historySite, "site", "", "Filter by site (default: all configured sites)")
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Show one day (YYYY-MM-DD)")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 48, "Max rows per site (ignored with --date)")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	db, err := archive.New(cfg.GetArchivePath())
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer db.Close()

	var sites []string
	if historySite != "" {
		sites = append(sites, historySite)
	} else {
		for _, s := range cfg.Tibber.Sites {
			sites = append(sites, s.Name)
		}
	}

	for _, site := range sites {
		var rows []archive.HourRow
		if historyDate != "" {
			day, err := time.ParseInLocation("2006-01-02", historyDate, loc)
			if err != nil {
				return fmt.Errorf("parsing --date: %w", err)
			}
			rows, err = db.ListDay(site, day, loc)
			if err != nil {
				return fmt.Errorf("listing day for %s: %w", site, err)
			}
		} else {
			rows, err = db.ListRecent(site, historyLimit)
			if err != nil {
				return fmt.Errorf("listing history for %s: %w", site, err)
			}
		}

		if len(rows) == 0 {
			fmt.Printf("No data found for %s\n", site)
			continue
		}

		fmt.Printf("\n%s hourly cost:\n", site)
		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("%-16s  %8s  %8s  %10s  %8s\n", "Hour", "kWh", "Energy", "Transport", "Total")
		fmt.Println("--------------------------------------------------------------")

		var totalKWh, totalCost float64
		for _, r := range rows {
			fmt.Printf("%-16s  %8.2f  %8.2f  %10.2f  %8.2f\n",
				r.HourStart.In(loc).Format("2006-01-02 15:04"),
				r.KWh, r.EnergyCost, r.TransportCost, r.TotalCost)
			totalKWh += r.KWh
			totalCost += r.TotalCost
		}

		fmt.Println("--------------------------------------------------------------")
		fmt.Printf("%-16s  %8.2f  %30.2f\n", "Total", totalKWh, totalCost)
	}

	return nil
}
