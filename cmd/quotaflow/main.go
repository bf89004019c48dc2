package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/quotaflow/quotaflow/pkg/config"
	"github.com/quotaflow/quotaflow/pkg/engine"
	qferrors "github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
	"github.com/quotaflow/quotaflow/pkg/observability"
)

var version = "0.1.0"

// benchFlags collects the knobs for a synthetic benchmark run
type benchFlags struct {
	ConfigFile      string
	Items           int
	BatchSize       int
	Workers         int
	StreamThreshold int
	Rate            float64
	Burst           int
	MaxRetries      int
	FailureRate     float64
	TransientRate   float64
	LogLevel        string
	Trace           bool
}

func main() {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	root := &cobra.Command{
		Use:   "quotaflow",
		Short: "QuotaFlow - Rate-limited parallel batch execution engine",
		Long: `QuotaFlow applies large collections of write operations against throttled
remote APIs with bounded parallelism, per-service rate limiting, retry with
exponential backoff, and bounded-memory streaming for very large inputs.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("QuotaFlow v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	flags := &benchFlags{}
	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic benchmark against a simulated flaky API",
		Long: `Run the engine against an in-process simulated remote API and print the
operation metrics plus tuning recommendations.

The simulated API fails a configurable fraction of calls permanently
(validation-style rejections) and another fraction transiently (throttling
responses that succeed on retry).

Example:
  quotaflow bench --items 5000 --rate 200 --burst 50 --failure-rate 0.02`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(flags)
		},
	}

	benchCmd.Flags().StringVarP(&flags.ConfigFile, "config", "c", "", "Path to YAML configuration file (optional)")
	benchCmd.Flags().IntVar(&flags.Items, "items", 1000, "Number of synthetic items to process")
	benchCmd.Flags().IntVar(&flags.BatchSize, "batch-size", 0, "Items per batch (0 = use config)")
	benchCmd.Flags().IntVar(&flags.Workers, "workers", 0, "Maximum concurrent workers (0 = use config)")
	benchCmd.Flags().IntVar(&flags.StreamThreshold, "stream-threshold", 0, "Item count above which chunked streaming engages (0 = use config)")
	benchCmd.Flags().Float64Var(&flags.Rate, "rate", 0, "Admitted calls per second for the simulated API (0 = use config)")
	benchCmd.Flags().IntVar(&flags.Burst, "burst", 0, "Burst allowance before pacing kicks in (0 = use config)")
	benchCmd.Flags().IntVar(&flags.MaxRetries, "max-retries", -1, "Retries per item after the initial attempt (-1 = use config)")
	benchCmd.Flags().Float64Var(&flags.FailureRate, "failure-rate", 0.01, "Fraction of items rejected permanently")
	benchCmd.Flags().Float64Var(&flags.TransientRate, "transient-rate", 0.05, "Fraction of calls that fail transiently before succeeding")
	benchCmd.Flags().StringVar(&flags.LogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	benchCmd.Flags().BoolVar(&flags.Trace, "trace", false, "Emit OpenTelemetry spans to stdout")
	root.AddCommand(benchCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(flags *benchFlags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.ConfigFile != "" {
		if err := cfg.LoadFile(flags.ConfigFile); err != nil {
			return nil, fmt.Errorf("configuration error: %w", err)
		}
	}

	if flags.BatchSize > 0 {
		cfg.Performance.BatchSize = flags.BatchSize
	}
	if flags.Workers > 0 {
		cfg.Performance.MaxWorkers = flags.Workers
	}
	if flags.StreamThreshold > 0 {
		cfg.Performance.StreamThreshold = flags.StreamThreshold
	}
	if flags.Rate > 0 {
		cfg.RateLimit.Default.Rate = flags.Rate
	}
	if flags.Burst > 0 {
		cfg.RateLimit.Default.Burst = flags.Burst
	}
	if flags.MaxRetries >= 0 {
		cfg.RateLimit.Default.MaxRetries = flags.MaxRetries
	}
	cfg.Observability.LogLevel = flags.LogLevel
	if flags.Trace {
		cfg.Observability.EnableTracing = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// flakyAPI simulates a throttled remote endpoint. A deterministic subset of
// items is rejected permanently; a random subset of calls fails transiently
// once per item before succeeding.
type flakyAPI struct {
	failureRate   float64
	transientRate float64

	mu     sync.Mutex
	rng    *rand.Rand
	flaked map[int]bool
}

func newFlakyAPI(failureRate, transientRate float64) *flakyAPI {
	return &flakyAPI{
		failureRate:   failureRate,
		transientRate: transientRate,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		flaked:        map[int]bool{},
	}
}

func (api *flakyAPI) apply(ctx context.Context, target, item interface{}) error {
	id := item.(int)

	if api.failureRate > 0 {
		span := int(1 / api.failureRate)
		if span > 0 && id%span == 0 {
			return qferrors.New(qferrors.ErrorTypeValidation, "simulated rejection: field value out of range")
		}
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.flaked[id] && api.rng.Float64() < api.transientRate {
		api.flaked[id] = true
		return qferrors.New(qferrors.ErrorTypeRateLimit, "simulated throttle: too many requests")
	}
	return nil
}

func runBench(flags *benchFlags) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:    cfg.Observability.LogLevel,
		Encoding: cfg.Observability.LogEncoding,
	}); err != nil {
		return fmt.Errorf("logger error: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "quotaflow-cli"))

	ctx := context.Background()
	if cfg.Observability.EnableTracing {
		shutdown, err := observability.Init(observability.Config{
			ServiceName: "quotaflow-bench",
			Enabled:     true,
			PrettyPrint: true,
		})
		if err != nil {
			return fmt.Errorf("tracing error: %w", err)
		}
		defer func() { _ = shutdown(ctx) }()
	}

	log.Info("starting benchmark",
		zap.Int("items", flags.Items),
		zap.Int("batch_size", cfg.Performance.BatchSize),
		zap.Int("workers", cfg.Performance.MaxWorkers),
		zap.Float64("rate", cfg.RateLimit.Default.Rate),
		zap.Int("burst", cfg.RateLimit.Default.Burst))

	items := make([]interface{}, flags.Items)
	for i := range items {
		items[i] = i + 1
	}

	api := newFlakyAPI(flags.FailureRate, flags.TransientRate)
	opt := engine.NewPerformanceOptimizer(cfg, logger.Get())

	opID, m := opt.StartOperation()
	stream := opt.StreamProcessor("benchmark")

	start := time.Now()
	succeeded, failures := stream.Run(ctx, items, "bench-target", api.apply, m,
		func(done, total int) {
			fmt.Fprintf(os.Stderr, "progress: %d/%d\n", done, total)
		})
	elapsed := time.Since(start)

	snap, err := opt.FinishOperation(opID)
	if err != nil {
		return err
	}

	out, err := snap.JSON()
	if err != nil {
		return fmt.Errorf("encoding metrics: %w", err)
	}
	fmt.Println(string(out))

	fmt.Printf("\n%d succeeded, %d failed in %s\n", len(succeeded), len(failures), elapsed.Round(time.Millisecond))
	for i, f := range failures {
		if i >= 5 {
			fmt.Printf("  ... and %d more failures\n", len(failures)-5)
			break
		}
		fmt.Printf("  item %v: %s\n", f.Item, f.Message)
	}

	if findings := opt.Recommend(snap); len(findings) > 0 {
		fmt.Println("\nRecommendations:")
		for _, finding := range findings {
			fmt.Printf("  - %s\n", finding)
		}
	}
	return nil
}
