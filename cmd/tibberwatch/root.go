package main

import (
	"github.com/spf13/cobra"

	"tibberwatch/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tibberwatch",
	Short: "Watch Tibber power usage and publish cost snapshots over MQTT",
	Long: `Tibberwatch polls the Tibber API for hourly consumption and spot
prices, runs the tariff and price-support calculation, folds in realtime
power telemetry, and publishes a per-site status snapshot to an MQTT
broker for home-automation dashboards.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the configuration file
func loadConfig() (*config.Config, error) {
	return config.Load(getConfigPath())
}
