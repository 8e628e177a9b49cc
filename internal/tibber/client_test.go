package tibber

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usageResponseBody = `{
  "data": {
    "viewer": {
      "home": {
        "id": "home-id-1",
        "consumption": {
          "nodes": [
            {"from": "2024-07-09T00:00:00.000+02:00", "to": "2024-07-09T01:00:00.000+02:00", "unitPrice": 0.8, "unitPriceVAT": 1.0, "consumption": 1.25},
            {"from": "2024-07-09T01:00:00.000+02:00", "to": "2024-07-09T02:00:00.000+02:00", "unitPrice": 0.8, "unitPriceVAT": 1.0, "consumption": null}
          ]
        },
        "currentSubscription": {
          "status": "running",
          "priceInfo": {
            "today": [
              {"total": 1.05, "energy": 0.8, "tax": 0.25, "startsAt": "2024-07-09T00:00:00.000+02:00"},
              {"total": 1.10, "energy": 0.85, "tax": 0.25, "startsAt": "2024-07-09T01:00:00.000+02:00"}
            ]
          }
        }
      }
    }
  }
}`

func TestMonthToDate(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Oslo")
	require.NoError(t, err)

	var gotAuth string
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req graphqlRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotQuery = req.Query
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(usageResponseBody))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", loc)
	records, spot, err := client.MonthToDate(context.Background(), "home-id-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Contains(t, gotQuery, `home(id: "home-id-1")`)
	assert.NotContains(t, gotQuery, "HOURS_TO_GET")

	// The null consumption node is dropped.
	require.Len(t, records, 1)
	assert.Equal(t, 1.25, records[0].ConsumptionKWh)
	assert.Equal(t, 1.0, records[0].UnitPrice)
	assert.Equal(t, "Europe/Oslo", records[0].From.Location().String())
	assert.Equal(t, 0, records[0].From.Hour())

	require.Len(t, spot, 2)
	assert.Equal(t, 0.8, spot[0].Energy)
	assert.Equal(t, 0.25, spot[0].Tax)
	assert.Equal(t, 1, spot[1].StartsAt.Hour())
}

func TestMonthToDateHTTPError(t *testing.T) {
	loc := time.UTC
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "bad-token", loc)
	_, _, err := client.MonthToDate(context.Background(), "home-id-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestMonthToDateGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"errors": [{"message": "invalid home id"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-token", time.UTC)
	_, _, err := client.MonthToDate(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid home id")
}
