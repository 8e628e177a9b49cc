// Package archive keeps an optional local record of computed hourly
// costs. The daemon only writes to it; it exists for the history
// command and offline inspection, never as a source of core state.
package archive

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tibberwatch/pkg/models"
)

// DB wraps the archive database connection.
type DB struct {
	conn *sql.DB
}

// HourRow is one archived hour of usage and cost for a site.
type HourRow struct {
	Site          string
	HourStart     time.Time
	KWh           float64
	EnergyCost    float64
	TransportCost float64
	TotalCost     float64
}

// New opens the archive and initializes the schema.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS hourly_usage (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site TEXT NOT NULL,
		hour_start TEXT NOT NULL,
		kwh REAL NOT NULL,
		energy_cost REAL NOT NULL,
		transport_cost REAL NOT NULL,
		total_cost REAL NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(site, hour_start)
	);
	CREATE INDEX IF NOT EXISTS idx_hourly_site ON hourly_usage(site);
	CREATE INDEX IF NOT EXISTS idx_hourly_hour_start ON hourly_usage(hour_start);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// UpsertHour stores one hour of usage and cost. Later refreshes of the
// same hour overwrite the earlier row, since the vendor may revise
// recent readings.
func (db *DB) UpsertHour(site string, hourStart time.Time, cost models.HourCost) error {
	query := `
	INSERT INTO hourly_usage (site, hour_start, kwh, energy_cost, transport_cost, total_cost, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(site, hour_start) DO UPDATE SET
		kwh = excluded.kwh,
		energy_cost = excluded.energy_cost,
		transport_cost = excluded.transport_cost,
		total_cost = excluded.total_cost
	`

	_, err := db.conn.Exec(query,
		site,
		hourStart.UTC().Format(time.RFC3339),
		cost.ConsumptionKWh,
		cost.EnergyCost,
		cost.TransportCost,
		cost.TotalCost,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting hourly usage: %w", err)
	}

	return nil
}

// ListRecent returns the most recent archived hours for a site, newest
// first.
func (db *DB) ListRecent(site string, limit int) ([]HourRow, error) {
	query := `
	SELECT site, hour_start, kwh, energy_cost, transport_cost, total_cost
	FROM hourly_usage
	WHERE site = ?
	ORDER BY hour_start DESC
	LIMIT ?
	`

	rows, err := db.conn.Query(query, site, limit)
	if err != nil {
		return nil, fmt.Errorf("querying hourly usage: %w", err)
	}
	defer rows.Close()

	return scanHourRows(rows)
}

// ListDay returns the archived hours for one calendar day at a site,
// in hour order. The day is interpreted in the given location.
func (db *DB) ListDay(site string, day time.Time, loc *time.Location) ([]HourRow, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	end := start.AddDate(0, 0, 1)

	query := `
	SELECT site, hour_start, kwh, energy_cost, transport_cost, total_cost
	FROM hourly_usage
	WHERE site = ? AND hour_start >= ? AND hour_start < ?
	ORDER BY hour_start ASC
	`

	rows, err := db.conn.Query(query, site,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("querying hourly usage: %w", err)
	}
	defer rows.Close()

	return scanHourRows(rows)
}

func scanHourRows(rows *sql.Rows) ([]HourRow, error) {
	var results []HourRow
	for rows.Next() {
		var r HourRow
		var hourStr string
		if err := rows.Scan(&r.Site, &hourStr, &r.KWh, &r.EnergyCost, &r.TransportCost, &r.TotalCost); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		hour, err := time.Parse(time.RFC3339, hourStr)
		if err != nil {
			return nil, fmt.Errorf("parsing hour_start: %w", err)
		}
		r.HourStart = hour
		results = append(results, r)
	}
	return results, rows.Err()
}
