package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/database"
	"github.com/irfndi/celebrum-forecast/internal/external"
	"github.com/irfndi/celebrum-forecast/internal/models"
)

type poolOpener func(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (database.DatabasePool, func(), error)

type weatherOptions struct {
	start    string
	end      string
	location string
	migrate  bool
	dryRun   bool
	openPool poolOpener
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (database.DatabasePool, func(), error) {
	db, err := database.NewPostgresConnection(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return db.Pool, db.Close, nil
}

func newWeatherCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weather",
		Short: "Manage the stored daily weather history",
	}
	cmd.AddCommand(newWeatherLoadCmd(root, &weatherOptions{openPool: openPostgres}))
	return cmd
}

func newWeatherLoadCmd(root *rootOptions, opts *weatherOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Load archived weather from Open-Meteo into analytics.weather_daily",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return loadWeather(ctx, cmd, cfg, logger, opts)
		},
	}
	cmd.Flags().StringVar(&opts.start, "start", "", "First day to load (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "Last day to load (YYYY-MM-DD), defaults to yesterday")
	cmd.Flags().StringVar(&opts.location, "location", external.DefaultLocation, "Location label stored with each row")
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "Apply schema migrations before loading")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Print the fetched days instead of storing them")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func loadWeather(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, opts *weatherOptions) error {
	from, to, err := weatherRange(opts.start, opts.end, time.Now())
	if err != nil {
		return err
	}

	client := external.NewOpenMeteoClient(openMeteoConfig(cfg.External), logger)
	days, err := client.HistoricalWeather(ctx, opts.location, from, to)
	if err != nil {
		return fmt.Errorf("failed to fetch weather: %w", err)
	}
	logger.WithFields(logrus.Fields{
		"from": models.DayKey(from),
		"to":   models.DayKey(to),
		"days": len(days),
	}).Info("Fetched archived weather")

	if opts.dryRun {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(days)
	}

	pool, closePool, err := opts.openPool(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer closePool()

	if opts.migrate {
		if err := database.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	written, err := database.NewWeatherRepository(pool).UpsertWeather(ctx, days)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "stored %d days of weather for %s\n", written, opts.location)
	return nil
}

// weatherRange parses the flag values; the archive lags a few days so the default end is yesterday
func weatherRange(start, end string, now time.Time) (time.Time, time.Time, error) {
	from, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid --start %q: want YYYY-MM-DD", start)
	}
	to := models.TruncateDay(now).AddDate(0, 0, -1)
	if end != "" {
		if to, err = time.Parse(models.DateLayout, end); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end %q: want YYYY-MM-DD", end)
		}
	}
	if to.Before(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end %s is before --start %s", models.DayKey(to), models.DayKey(from))
	}
	return from, to, nil
}
