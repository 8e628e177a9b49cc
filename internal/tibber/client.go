// Package tibber talks to the Tibber GraphQL API: batch usage/price
// queries over HTTP and realtime telemetry over a websocket
// subscription.
package tibber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tibberwatch/pkg/models"
)

// Client queries the Tibber GraphQL HTTP endpoint.
type Client struct {
	httpClient *http.Client
	apiURL     string
	token      string
	loc        *time.Location
}

// NewClient creates an API client. All returned timestamps are
// converted to the given billing time zone.
func NewClient(apiURL, token string, loc *time.Location) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     apiURL,
		token:      token,
		loc:        loc,
	}
}

type graphqlRequest struct {
	Query string `json:"query"`
}

// MonthToDate fetches hourly consumption covering the current month
// plus today's spot prices for one home. The request window is
// day-of-month times 24 hours, which always reaches back past the
// start of the month.
func (c *Client) MonthToDate(ctx context.Context, homeID string) ([]models.ConsumptionRecord, []models.SpotPrice, error) {
	now := time.Now().In(c.loc)
	hoursToGet := now.Day() * 24

	query := strings.ReplaceAll(usageQuery, "HOME_ID", homeID)
	query = strings.ReplaceAll(query, "HOURS_TO_GET", strconv.Itoa(hoursToGet))

	body, err := json.Marshal(graphqlRequest{Query: query})
	if err != nil {
		return nil, nil, fmt.Errorf("encoding query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("querying tibber api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, nil, fmt.Errorf("tibber api status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed usageResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Errors) > 0 {
		return nil, nil, fmt.Errorf("tibber api error: %s", parsed.Errors[0].Message)
	}

	records, err := c.parseConsumption(parsed.Data.Viewer.Home.Consumption.Nodes)
	if err != nil {
		return nil, nil, err
	}
	spot, err := c.parsePrices(parsed.Data.Viewer.Home.CurrentSubscription.PriceInfo.Today)
	if err != nil {
		return nil, nil, err
	}
	return records, spot, nil
}

func (c *Client) parseConsumption(nodes []consumptionNode) ([]models.ConsumptionRecord, error) {
	records := make([]models.ConsumptionRecord, 0, len(nodes))
	for _, n := range nodes {
		if n.Consumption == nil {
			// Hours without a metered value yet.
			continue
		}
		from, err := time.Parse(time.RFC3339, n.From)
		if err != nil {
			return nil, fmt.Errorf("parsing consumption timestamp %q: %w", n.From, err)
		}
		to, err := time.Parse(time.RFC3339, n.To)
		if err != nil {
			return nil, fmt.Errorf("parsing consumption timestamp %q: %w", n.To, err)
		}
		records = append(records, models.ConsumptionRecord{
			From:           from.In(c.loc),
			To:             to.In(c.loc),
			ConsumptionKWh: *n.Consumption,
			UnitPrice:      n.UnitPriceVAT,
		})
	}
	return records, nil
}

func (c *Client) parsePrices(nodes []priceNode) ([]models.SpotPrice, error) {
	spot := make([]models.SpotPrice, 0, len(nodes))
	for _, n := range nodes {
		startsAt, err := time.Parse(time.RFC3339, n.StartsAt)
		if err != nil {
			return nil, fmt.Errorf("parsing price timestamp %q: %w", n.StartsAt, err)
		}
		spot = append(spot, models.SpotPrice{
			StartsAt: startsAt.In(c.loc),
			Total:    n.Total,
			Energy:   n.Energy,
			Tax:      n.Tax,
		})
	}
	return spot, nil
}
