package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/database"
	"github.com/irfndi/celebrum-forecast/internal/models"
)

func cliConfig() *config.Config {
	return &config.Config{
		Environment: "test",
		LogLevel:    "error",
		Forecast: config.ForecastConfig{
			DefaultHorizon: 7,
			MaxHorizon:     30,
			ModelTimeout:   "10s",
			Seed:           42,
			Location:       "Lipetsk,RU",
		},
		Cache: config.CacheConfig{TTL: "1h", MaxEntries: 50, FingerprintTail: 7, Durable: "none"},
	}
}

func testRootOptions(cfg *config.Config) *rootOptions {
	return &rootOptions{loadConfig: func() (*config.Config, error) { return cfg, nil }}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeRequest(t *testing.T, days, horizon int) string {
	t.Helper()
	start := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	req := map[string]any{"horizon": horizon}
	txs := make([]map[string]any, 0, days)
	for i := 0; i < days; i++ {
		txs = append(txs, map[string]any{
			"date":   start.AddDate(0, 0, i).Format(time.RFC3339),
			"amount": fmt.Sprintf("%d.00", 800+(i%7)*40),
		})
	}
	req["transactions"] = txs
	data, err := json.Marshal(req)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "request.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestRunCommand(t *testing.T) {
	input := writeRequest(t, 35, 5)
	out, err := execute(t, newRootCmdWith(testRootOptions(cliConfig())), "run", "--input", input, "--diagnostics")
	require.NoError(t, err)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.NotNil(t, got.Result)
	require.Len(t, got.Result.Points, 5)
	assert.Equal(t, time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC), got.Result.Points[0].Date.UTC())
	require.NotNil(t, got.Diagnostics)
	assert.Equal(t, got.Result.RunID, got.Diagnostics.RunID)
	assert.Len(t, got.Diagnostics.Models, len(models.AllModels))
}

func TestRunCommand_HorizonOverrideAndOutputFile(t *testing.T) {
	input := writeRequest(t, 35, 5)
	output := filepath.Join(t.TempDir(), "result.json")

	out, err := execute(t, newRootCmdWith(testRootOptions(cliConfig())), "run", "-i", input, "--horizon", "3", "-o", output)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var got runOutput
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Len(t, got.Result.Points, 3)
	assert.Nil(t, got.Diagnostics)
}

func TestRunCommand_Stdin(t *testing.T) {
	cmd := newRootCmdWith(testRootOptions(cliConfig()))
	cmd.SetIn(strings.NewReader(`{"transactions":[],"horizon":2}`))
	out, err := execute(t, cmd, "run", "--input", "-")
	require.NoError(t, err)

	var got runOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.True(t, got.Result.Fallback)
	assert.Len(t, got.Result.Points, 2)
}

func TestRunCommand_Errors(t *testing.T) {
	_, err := execute(t, newRootCmdWith(testRootOptions(cliConfig())), "run")
	assert.ErrorContains(t, err, "input")

	_, err = execute(t, newRootCmdWith(testRootOptions(cliConfig())), "run", "--input", filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "failed to open input")

	input := writeRequest(t, 10, 5)
	_, err = execute(t, newRootCmdWith(testRootOptions(cliConfig())), "run", "--input", input, "--horizon", "-2")
	assert.ErrorContains(t, err, "horizon")

	failing := &rootOptions{loadConfig: func() (*config.Config, error) { return nil, fmt.Errorf("bad yaml") }}
	_, err = execute(t, newRootCmdWith(failing), "run", "--input", input)
	assert.ErrorContains(t, err, "bad yaml")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, newRootCmdWith(testRootOptions(cliConfig())), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "celebrum-forecast")
}

func archiveServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		assert.Equal(t, "2024-01-02", r.URL.Query().Get("end_date"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{
			"time":["2024-01-01","2024-01-02"],
			"temperature_2m_max":[-3.1,-1.0],
			"temperature_2m_min":[-9.4,-6.2],
			"temperature_2m_mean":[-6.0,null],
			"precipitation_sum":[0.4,0],
			"snowfall_sum":[0.3,0],
			"windspeed_10m_max":[5.2,3.1]
		}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWeatherLoadCommand(t *testing.T) {
	cfg := cliConfig()
	cfg.External.ArchiveURL = archiveServer(t).URL

	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mockPool.Close()
	mockPool.ExpectExec(`INSERT INTO analytics\.weather_daily`).
		WithArgs(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "Lipetsk,RU", -9.4, -3.1, -6.0, 0.4, 0.3, 5.2).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(`INSERT INTO analytics\.weather_daily`).
		WithArgs(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "Lipetsk,RU", -6.2, -1.0, pgxmock.AnyArg(), 0.0, 0.0, 3.1).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	closed := false
	opts := &weatherOptions{openPool: func(ctx context.Context, _ config.DatabaseConfig, _ *logrus.Logger) (database.DatabasePool, func(), error) {
		return mockPool, func() { closed = true }, nil
	}}
	out, err := execute(t, newWeatherLoadCmd(testRootOptions(cfg), opts), "--start", "2024-01-01", "--end", "2024-01-02")
	require.NoError(t, err)
	assert.Contains(t, out, "stored 2 days")
	assert.True(t, closed)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestWeatherLoadCommand_DryRun(t *testing.T) {
	cfg := cliConfig()
	cfg.External.ArchiveURL = archiveServer(t).URL
	opts := &weatherOptions{openPool: func(context.Context, config.DatabaseConfig, *logrus.Logger) (database.DatabasePool, func(), error) {
		t.Fatal("dry run must not open the database")
		return nil, nil, nil
	}}

	out, err := execute(t, newWeatherLoadCmd(testRootOptions(cfg), opts), "--start", "2024-01-01", "--end", "2024-01-02", "--dry-run")
	require.NoError(t, err)
	var days []models.WeatherDay
	require.NoError(t, json.Unmarshal([]byte(out), &days))
	require.Len(t, days, 2)
	assert.InDelta(t, -3.6, days[1].Temperature, 1e-9)
}

func TestWeatherRange(t *testing.T) {
	now := time.Date(2024, 6, 15, 13, 0, 0, 0, time.UTC)

	from, to, err := weatherRange("2024-06-01", "", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 6, 14, 0, 0, 0, 0, time.UTC), to)

	_, _, err = weatherRange("01/06/2024", "", now)
	assert.Error(t, err)
	_, _, err = weatherRange("2024-06-01", "2024-13-01", now)
	assert.Error(t, err)
	_, _, err = weatherRange("2024-06-10", "2024-06-01", now)
	assert.ErrorContains(t, err, "before")
}
