// Package estimator runs the external price model as a child process.
package estimator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"

	"realestate360/internal/metrics"
	"realestate360/internal/util"
	"realestate360/pkg/domain"
)

const (
	defaultCommand       = "python3"
	defaultTimeout       = 60 * time.Second
	defaultMaxConcurrent = 4
	stderrLogLimit       = 2048
)

// ErrEstimationFailed covers every way the model process can fail: it did
// not start, exited non-zero, timed out, or printed no usable estimate.
var ErrEstimationFailed = errors.New("price estimation failed")

// Config configures the model process.
type Config struct {
	Command       string
	Script        string
	DataPath      string
	WorkDir       string
	Timeout       time.Duration
	MaxConcurrent int
}

// Request is a validated estimation request.
type Request struct {
	PropertyType string
	Sqft         float64
	City         string
	BHK          int
}

// Gateway invokes the model with bounded wall-clock time and parallelism.
type Gateway struct {
	cfg Config
	sem *semaphore.Weighted
}

func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.Script) == "" {
		return nil, errors.New("estimator script required")
	}
	if cfg.Command == "" {
		cfg.Command = defaultCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	return &Gateway{cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.MaxConcurrent))}, nil
}

// Predict runs the model once for req.
func (g *Gateway) Predict(ctx context.Context, req Request) (domain.Estimate, error) {
	start := time.Now()
	est, err := g.run(ctx, req)
	metrics.RecordEstimatorRun(time.Since(start), err)
	return est, err
}

func (g *Gateway) run(ctx context.Context, req Request) (domain.Estimate, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return domain.Estimate{}, fmt.Errorf("%w: waiting for a slot: %v", ErrEstimationFailed, err)
	}
	defer g.sem.Release(1)

	envelope, err := json.Marshal(struct {
		PropertyType string  `json:"propertyType"`
		Sqft         float64 `json:"sqft"`
		City         string  `json:"city"`
		BHK          int     `json:"bhk"`
		DataPath     string  `json:"dataPath,omitempty"`
	}{req.PropertyType, req.Sqft, req.City, req.BHK, g.cfg.DataPath})
	if err != nil {
		return domain.Estimate{}, fmt.Errorf("%w: encode request: %v", ErrEstimationFailed, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	cmd := exec.CommandContext(runCtx, g.cfg.Command, g.cfg.Script, string(envelope))
	cmd.Dir = g.cfg.WorkDir
	cmd.WaitDelay = time.Second
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := util.LoggerFromContext(ctx)
	if err := cmd.Run(); err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s", g.cfg.Timeout)
		}
		logger.Warn("estimator process failed", "err", err, "stderr", tail(stderr.String(), stderrLogLimit))
		return domain.Estimate{}, fmt.Errorf("%w: %v", ErrEstimationFailed, err)
	}
	est, err := parseEstimate(lastLine(stdout.String()))
	if err != nil {
		logger.Warn("estimator output rejected", "err", err, "stderr", tail(stderr.String(), stderrLogLimit))
		return domain.Estimate{}, err
	}
	return est, nil
}

// parseEstimate decodes the model's final output line.
func parseEstimate(line string) (domain.Estimate, error) {
	if line == "" || !gjson.Valid(line) {
		return domain.Estimate{}, fmt.Errorf("%w: no JSON result on stdout", ErrEstimationFailed)
	}
	res := gjson.Parse(line)
	if !res.IsObject() {
		return domain.Estimate{}, fmt.Errorf("%w: result is not an object", ErrEstimationFailed)
	}
	if msg := res.Get("error"); msg.Exists() {
		return domain.Estimate{}, fmt.Errorf("%w: model reported %q", ErrEstimationFailed, msg.String())
	}
	if res.Get("currentPrice").Type != gjson.Number {
		return domain.Estimate{}, fmt.Errorf("%w: result has no currentPrice", ErrEstimationFailed)
	}
	var est domain.Estimate
	if err := json.Unmarshal([]byte(line), &est); err != nil {
		return domain.Estimate{}, fmt.Errorf("%w: decode result: %v", ErrEstimationFailed, err)
	}
	return est, nil
}

func lastLine(out string) string {
	lines := strings.Split(out, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return ""
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
