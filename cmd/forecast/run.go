package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-forecast/internal/cache"
	"github.com/irfndi/celebrum-forecast/internal/config"
	"github.com/irfndi/celebrum-forecast/internal/external"
	"github.com/irfndi/celebrum-forecast/internal/forecasters"
	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/services"
)

type runOptions struct {
	input       string
	output      string
	horizon     int
	external    bool
	diagnostics bool
}

// runOutput is what `forecast run` prints
type runOutput struct {
	Result      *models.ForecastResult      `json:"result"`
	Diagnostics *models.EnsembleDiagnostics `json:"diagnostics,omitempty"`
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Forecast revenue from a JSON request file",
		Long: `Reads a forecast request ({"transactions":[...],"profitability":[...],"horizon":N})
from --input (or stdin with "-") and prints the forecast as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := root.setup(cmd)
			if err != nil {
				return err
			}
			return runForecast(cmd.Context(), cmd, cfg, logger, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Request file, or - for stdin")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write the result here instead of stdout")
	cmd.Flags().IntVar(&opts.horizon, "horizon", 0, "Override the request horizon")
	cmd.Flags().BoolVar(&opts.external, "external", false, "Fetch weather from Open-Meteo")
	cmd.Flags().BoolVar(&opts.diagnostics, "diagnostics", false, "Include ensemble diagnostics in the output")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runForecast(ctx context.Context, cmd *cobra.Command, cfg *config.Config, logger *logrus.Logger, opts *runOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := readRequest(cmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}
	if opts.horizon != 0 {
		req.Horizon = opts.horizon
	}

	svc, err := newCLIService(cfg, logger, opts.external)
	if err != nil {
		return err
	}
	defer svc.Shutdown()
	if err := svc.WarmUp(ctx); err != nil {
		return err
	}

	result, err := svc.GenerateForecast(ctx, req)
	if err != nil {
		return err
	}
	out := runOutput{Result: result}
	if opts.diagnostics {
		out.Diagnostics = svc.LastDiagnostics()
	}

	w := cmd.OutOrStdout()
	if opts.output != "" && opts.output != "-" {
		f, err := os.Create(opts.output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}
	return nil
}

func readRequest(stdin io.Reader, path string) (models.ForecastRequest, error) {
	var req models.ForecastRequest
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("failed to open input: %w", err)
		}
		defer f.Close()
		r = f
	}
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode forecast request: %w", err)
	}
	return req, nil
}

// newCLIService builds an in-process engine with a memory-only parameter cache
func newCLIService(cfg *config.Config, logger *logrus.Logger, withExternal bool) (*services.ForecastService, error) {
	paramCache, err := cache.NewModelParameterCache(cache.Config{
		TTL:        cfg.Cache.TTLDuration(),
		MaxEntries: cfg.Cache.MaxEntries,
	}, nil, nil, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create parameter cache: %w", err)
	}

	holidays := external.NewRussianCalendar()
	var ext services.ExternalSource
	if withExternal {
		client := external.NewOpenMeteoClient(openMeteoConfig(cfg.External), logger)
		composite := external.NewCompositeProvider(external.ProviderConfig{
			HistoryDays: cfg.External.HistoryDays,
		}, holidays, client, logger, client)
		ext = external.NewSafeProvider(composite, nil, cfg.External.TimeoutDuration(), logger)
	}

	var (
		runner forecasters.BatchRunner
		probe  forecasters.AvailabilityProbe
	)
	if cfg.NHITS.Enabled {
		nhits := services.NewNhitsRunner(services.NhitsConfig{
			Python:      cfg.NHITS.Python,
			Script:      cfg.NHITS.Script,
			Timeout:     cfg.NHITS.TimeoutDuration(),
			ProbeTTL:    cfg.NHITS.ProbeTTLDuration(),
			MaxWarnings: cfg.NHITS.MaxWarnings,
			Cooldown:    cfg.NHITS.CooldownDuration(),
		}, logger)
		runner, probe = nhits, nhits.Probe()
	}

	svcCfg := services.ForecastServiceConfigFrom(cfg)
	svcCfg.PersistPredictions = false
	return services.NewForecastService(svcCfg, services.ForecastDeps{
		Forecasters: forecasters.All(cfg.Forecast.Seed, runner, probe, logger),
		Cache:       paramCache,
		External:    ext,
		Holidays:    holidays,
		Probe:       probe,
	}, logger), nil
}

func openMeteoConfig(cfg config.ExternalConfig) external.OpenMeteoConfig {
	return external.OpenMeteoConfig{
		ArchiveURL:  cfg.ArchiveURL,
		ForecastURL: cfg.ForecastURL,
		Latitude:    cfg.Latitude,
		Longitude:   cfg.Longitude,
		Timezone:    cfg.Timezone,
		Timeout:     cfg.TimeoutDuration(),
	}
}
