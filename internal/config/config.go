package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"tibberwatch/internal/prices"
)

// Config holds the application configuration.
type Config struct {
	Tibber    TibberConfig    `yaml:"tibber"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Tariff    TariffConfig    `yaml:"tariff,omitempty"`
	Intervals IntervalsConfig `yaml:"intervals,omitempty"`
	HTTP      HTTPConfig      `yaml:"http,omitempty"`
	Archive   ArchiveConfig   `yaml:"archive,omitempty"`
}

// TibberConfig holds API access and the monitored sites.
type TibberConfig struct {
	Token  string `yaml:"token,omitempty"` // overridden by TIBBER_TOKEN
	APIURL string `yaml:"api_url,omitempty"`
	WSURL  string `yaml:"ws_url,omitempty"`
	Sites  []Site `yaml:"sites"`
}

// Site is one monitored location.
type Site struct {
	Name   string `yaml:"name"`
	HomeID string `yaml:"home_id"` // vendor identifier, used for reverse lookup

	// SupportEligible marks sites that qualify for price support.
	// Holiday homes do not.
	SupportEligible bool `yaml:"support_eligible"`

	// BurstyProduction marks sites whose meter reports production
	// intermittently, needing the zero-power workaround.
	BurstyProduction bool `yaml:"bursty_production,omitempty"`
}

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	Broker    string `yaml:"broker"`
	Username  string `yaml:"username,omitempty"`
	Password  string `yaml:"password,omitempty"` // overridden by MQTT_PASSWORD
	RootTopic string `yaml:"root_topic,omitempty"`
}

// TariffConfig optionally overrides the built-in tariff table.
type TariffConfig struct {
	SupportCutoffKWh     float64 `yaml:"support_cutoff_kwh,omitempty"`
	SupportEntryPrice    float64 `yaml:"support_entry_price,omitempty"`
	SupportRate          float64 `yaml:"support_rate,omitempty"`
	WinterNightOrWeekend float64 `yaml:"winter_night_or_weekend,omitempty"`
	WinterDay            float64 `yaml:"winter_day,omitempty"`
	SummerNightOrWeekend float64 `yaml:"summer_night_or_weekend,omitempty"`
	SummerDay            float64 `yaml:"summer_day,omitempty"`
	WinterMonths         []int   `yaml:"winter_months,omitempty"` // 1-12
	Timezone             string  `yaml:"timezone,omitempty"`      // billing zone, default Europe/Oslo
}

// IntervalsConfig holds the scheduling periods, as Go duration strings.
type IntervalsConfig struct {
	Refresh       string `yaml:"refresh,omitempty"`        // batch refresh period
	Publish       string `yaml:"publish,omitempty"`        // MQTT publish period
	MinForward    string `yaml:"min_forward,omitempty"`    // realtime forward rate limit
	MaxSampleAge  string `yaml:"max_sample_age,omitempty"` // staleness watchdog
	WatchdogGrace string `yaml:"watchdog_grace,omitempty"` // startup grace before watchdog arms
}

// HTTPConfig holds the debug endpoint settings.
type HTTPConfig struct {
	Bind string `yaml:"bind,omitempty"` // empty disables the endpoint
}

// ArchiveConfig holds the optional SQLite usage archive settings.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}

// Load reads the config file and applies environment overrides.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Secrets come from the environment when present.
	if v := os.Getenv("TIBBER_TOKEN"); v != "" {
		cfg.Tibber.Token = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	return &cfg, nil
}

// DefaultConfigPath returns the default config file path (local directory).
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate checks that everything needed to start the daemon is present.
// Called before any wiring so misconfiguration fails fast.
func (c *Config) Validate() error {
	if c.Tibber.Token == "" {
		return fmt.Errorf("tibber token is required (config tibber.token or TIBBER_TOKEN)")
	}
	if len(c.Tibber.Sites) == 0 {
		return fmt.Errorf("at least one site must be configured")
	}
	seen := make(map[string]bool)
	for _, s := range c.Tibber.Sites {
		if s.Name == "" {
			return fmt.Errorf("site with empty name")
		}
		if s.HomeID == "" {
			return fmt.Errorf("site %q has no home_id", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate site name %q", s.Name)
		}
		seen[s.Name] = true
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker address is required")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	for _, d := range []string{
		c.Intervals.Refresh, c.Intervals.Publish, c.Intervals.MinForward,
		c.Intervals.MaxSampleAge, c.Intervals.WatchdogGrace,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid interval %q: %w", d, err)
		}
	}
	return nil
}

// GetAPIURL returns the GraphQL endpoint, defaulting to the public API.
func (c *Config) GetAPIURL() string {
	if c.Tibber.APIURL != "" {
		return c.Tibber.APIURL
	}
	return "https://api.tibber.com/v1-beta/gql"
}

// GetWSURL returns the subscription endpoint, defaulting to the public API.
func (c *Config) GetWSURL() string {
	if c.Tibber.WSURL != "" {
		return c.Tibber.WSURL
	}
	return "wss://websocket-api.tibber.com/v1-beta/gql/subscriptions"
}

// GetRootTopic returns the MQTT topic namespace with a default of "power".
func (c *Config) GetRootTopic() string {
	if c.MQTT.RootTopic != "" {
		return c.MQTT.RootTopic
	}
	return "power"
}

// Location returns the billing time zone. All hour and weekday
// classification happens in this zone regardless of host locale.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Tariff.Timezone
	if tz == "" {
		tz = "Europe/Oslo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
	}
	return loc, nil
}

// BuildTariff returns the tariff table with config overrides applied.
func (c *Config) BuildTariff() prices.Tariff {
	t := prices.Default()
	tc := c.Tariff
	if tc.SupportCutoffKWh > 0 {
		t.SupportCutoffKWh = tc.SupportCutoffKWh
	}
	if tc.SupportEntryPrice > 0 {
		t.SupportEntryPrice = tc.SupportEntryPrice
	}
	if tc.SupportRate > 0 {
		t.SupportRate = tc.SupportRate
	}
	if tc.WinterNightOrWeekend > 0 {
		t.WinterNightOrWeekend = tc.WinterNightOrWeekend
	}
	if tc.WinterDay > 0 {
		t.WinterDay = tc.WinterDay
	}
	if tc.SummerNightOrWeekend > 0 {
		t.SummerNightOrWeekend = tc.SummerNightOrWeekend
	}
	if tc.SummerDay > 0 {
		t.SummerDay = tc.SummerDay
	}
	if len(tc.WinterMonths) > 0 {
		t.WinterMonths = make(map[time.Month]bool, len(tc.WinterMonths))
		for _, m := range tc.WinterMonths {
			t.WinterMonths[time.Month(m)] = true
		}
	}
	return t
}

func (c *Config) duration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// GetRefreshInterval returns the batch refresh period (default 5m).
func (c *Config) GetRefreshInterval() time.Duration {
	return c.duration(c.Intervals.Refresh, 5*time.Minute)
}

// GetPublishInterval returns the MQTT publish period (default 15s).
func (c *Config) GetPublishInterval() time.Duration {
	return c.duration(c.Intervals.Publish, 15*time.Second)
}

// GetMinForwardInterval returns the realtime forward rate limit (default 15s).
func (c *Config) GetMinForwardInterval() time.Duration {
	return c.duration(c.Intervals.MinForward, 15*time.Second)
}

// GetMaxSampleAge returns the staleness threshold (default 30s).
func (c *Config) GetMaxSampleAge() time.Duration {
	return c.duration(c.Intervals.MaxSampleAge, 30*time.Second)
}

// GetWatchdogGrace returns the startup grace period before the staleness
// watchdog arms (default 2m, to allow the first feed connection).
func (c *Config) GetWatchdogGrace() time.Duration {
	return c.duration(c.Intervals.WatchdogGrace, 2*time.Minute)
}

// GetArchivePath returns the SQLite archive path (default ./usage.db).
func (c *Config) GetArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return "usage.db"
}
