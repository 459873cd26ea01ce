package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/irfndi/celebrum-forecast/internal/models"
	"github.com/irfndi/celebrum-forecast/internal/utils"
)

const nhitsMinHistory = 14

// NhitsConfig configures the external batch process
type NhitsConfig struct {
	Python      string
	Script      string
	Timeout     time.Duration
	ProbeTTL    time.Duration
	MaxWarnings int
	Cooldown    time.Duration
}

// DefaultNhitsConfig returns the production settings
func DefaultNhitsConfig() NhitsConfig {
	return NhitsConfig{
		Python:      "python3",
		Script:      "scripts/nhits_forecast.py",
		Timeout:     120 * time.Second,
		ProbeTTL:    time.Hour,
		MaxWarnings: 3,
		Cooldown:    30 * time.Minute,
	}
}

type nhitsPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
}

type nhitsRequest struct {
	HistoricalData []nhitsPoint `json:"historical_data"`
	Horizon        int          `json:"horizon"`
}

type nhitsResponse struct {
	Success     bool      `json:"success"`
	Predictions []float64 `json:"predictions"`
	Model       string    `json:"model"`
	Error       string    `json:"error"`
}

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// NhitsRunner feeds history to the Python process over stdin and reads predictions from stdout.
// Consecutive failures open a breaker that keeps the process disabled for the cooldown.
type NhitsRunner struct {
	cfg      NhitsConfig
	breaker  *CircuitBreaker
	logger   *logrus.Logger
	command  commandFunc
	warnings atomic.Int64
}

// NewNhitsRunner creates a runner
func NewNhitsRunner(cfg NhitsConfig, logger *logrus.Logger) *NhitsRunner {
	def := DefaultNhitsConfig()
	if cfg.Python == "" {
		cfg.Python = def.Python
	}
	if cfg.Script == "" {
		cfg.Script = def.Script
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxWarnings <= 0 {
		cfg.MaxWarnings = def.MaxWarnings
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &NhitsRunner{
		cfg: cfg,
		breaker: NewCircuitBreaker("nhits", CircuitBreakerConfig{
			FailureThreshold: cfg.MaxWarnings,
			SuccessThreshold: 1,
			Timeout:          cfg.Cooldown,
			MaxRequests:      1,
			ResetTimeout:     cfg.Cooldown,
		}, logger),
		logger:  logger,
		command: exec.CommandContext,
	}
}

// Probe returns a capability probe that checks the interpreter, the script and the neuralforecast package
func (r *NhitsRunner) Probe() *CapabilityProbe {
	return NewCapabilityProbe("nhits", r.check, r.cfg.ProbeTTL, r.logger)
}

func (r *NhitsRunner) check(ctx context.Context) error {
	if _, err := os.Stat(r.cfg.Script); err != nil {
		return fmt.Errorf("nhits script not found: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if out, err := r.command(ctx, r.cfg.Python, "-c", "import neuralforecast").CombinedOutput(); err != nil {
		return fmt.Errorf("neuralforecast import failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// Forecast implements forecasters.BatchRunner
func (r *NhitsRunner) Forecast(ctx context.Context, history []models.Observation, horizon int) ([]float64, error) {
	if horizon <= 0 {
		return nil, nil
	}
	mean := utils.Mean(models.Revenues(history))
	if len(history) < nhitsMinHistory {
		return repeat(mean, horizon), nil
	}

	var predictions []float64
	err := r.breaker.Execute(ctx, func(ctx context.Context) error {
		var runErr error
		predictions, runErr = r.run(ctx, history, horizon)
		return runErr
	})
	if err != nil {
		r.warn(err)
		return nil, err
	}
	r.warnings.Store(0)

	out := make([]float64, horizon)
	for i := range out {
		out[i] = mean
		if i < len(predictions) && utils.IsFinite(predictions[i]) && predictions[i] > 0 {
			out[i] = predictions[i]
		}
	}
	return out, nil
}

func (r *NhitsRunner) run(ctx context.Context, history []models.Observation, horizon int) ([]float64, error) {
	req := nhitsRequest{HistoricalData: make([]nhitsPoint, len(history)), Horizon: horizon}
	for i, obs := range history {
		req.HistoricalData[i] = nhitsPoint{Date: obs.Date.Format(models.DateLayout), Revenue: obs.Revenue}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode nhits request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	cmd := r.command(ctx, r.cfg.Python, r.cfg.Script)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("nhits process: %w", ctx.Err())
	}

	var resp nhitsResponse
	if err := json.Unmarshal(lastLine(stdout.Bytes()), &resp); err != nil {
		if runErr != nil {
			return nil, fmt.Errorf("nhits process failed: %w: %s", runErr, bytes.TrimSpace(stderr.Bytes()))
		}
		return nil, fmt.Errorf("failed to decode nhits output: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("nhits process reported failure: %s", resp.Error)
	}
	if len(resp.Predictions) == 0 {
		return nil, errors.New("nhits process returned no predictions")
	}
	return resp.Predictions, nil
}

// warn logs the first MaxWarnings consecutive failures and stays quiet afterwards
func (r *NhitsRunner) warn(err error) {
	n := r.warnings.Add(1)
	entry := r.logger.WithError(err).WithField("warnings", n)
	switch {
	case errors.Is(err, ErrCircuitOpen):
		entry.Debug("NHITS process disabled during cooldown")
	case n < int64(r.cfg.MaxWarnings):
		entry.Warn("NHITS process failed, using historical mean")
	case n == int64(r.cfg.MaxWarnings):
		entry.WithField("cooldown", r.cfg.Cooldown).Warn("NHITS process failed repeatedly, disabling for cooldown")
	default:
		entry.Debug("NHITS process failed, using historical mean")
	}
}

// Stats exposes the breaker state for diagnostics
func (r *NhitsRunner) Stats() CircuitBreakerStats {
	return r.breaker.GetStats()
}

func lastLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		return b[i+1:]
	}
	return b
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
