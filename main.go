package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"resty.dev/v3"

	"github.com/GuiPezoti/b3-scraper/internal/catalog"
	"github.com/GuiPezoti/b3-scraper/internal/config"
	"github.com/GuiPezoti/b3-scraper/internal/coordinator"
	"github.com/GuiPezoti/b3-scraper/internal/dates"
	"github.com/GuiPezoti/b3-scraper/internal/fetcher"
	"github.com/GuiPezoti/b3-scraper/internal/metrics"
	"github.com/GuiPezoti/b3-scraper/internal/ratelimit"
	"github.com/GuiPezoti/b3-scraper/internal/storage"
)

func main() {
	maxDates := pflag.Int("max-dates", 0, "number of recent trading dates to process (overrides config)")
	tasks := pflag.StringSlice("tasks", nil, "subset of tasks to run, in order (overrides config)")
	offline := pflag.Bool("offline", false, "skip the workday calendar and use the weekday fallback")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *maxDates > 0 {
		cfg.MaxDates = *maxDates
	}
	if len(*tasks) > 0 {
		cfg.Tasks = *tasks
	}

	level := slog.LevelInfo
	if *debug || cfg.LogLevel == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))

	// Misconfiguration (unknown task names) fails here, before any
	// fetching begins.
	selected, err := catalog.Default().Subset(cfg.Tasks)
	if err != nil {
		log.Fatalf("Invalid task selection: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				slog.Error("metrics listener failed", "error", err)
			}
		}()
	}

	client := fetcher.NewHTTPClient(cfg.BaseURL)
	f := fetcher.New(client, cfg.Host(),
		fetcher.Config{
			MaxAttempts: cfg.RetryAttempts,
			Backoff:     cfg.RetryBackoff,
			BackoffMax:  cfg.RetryBackoffMax,
		},
		fetcher.WithAdmission(fetcher.NewAdmission(
			int64(cfg.GlobalConcurrency), int64(cfg.HostConcurrency))),
		fetcher.WithLimiter(ratelimit.New(cfg.HostRPS, 1)),
		fetcher.WithMetrics(m),
	)

	store := storage.NewStore(cfg.DataDir)
	var uploader *storage.Uploader
	if cfg.BucketURL != "" {
		uploader = storage.NewUploader(cfg.BucketURL)
	}
	sink := storage.NewSink(store, uploader)

	coord := coordinator.New(selected, f,
		coordinator.WithSink(sink),
		coordinator.WithMetrics(m),
	)

	runDates := resolveDates(ctx, client, cfg, *offline)
	if len(runDates) == 0 {
		slog.Warn("no trading dates to process")
		return
	}

	fmt.Printf("Fetching %d tasks for %d trading dates...\n", len(selected), len(runDates))
	fmt.Println("================================================")

	summary := coord.Run(ctx, runDates)
	sink.Flush()

	printSummary(summary)

	if cfg.KeepDays > 0 {
		removed, err := store.Cleanup(time.Now(), cfg.KeepDays)
		if err != nil {
			slog.Error("cleanup failed", "error", err)
		} else if removed > 0 {
			slog.Info("removed old date directories", "count", removed)
		}
	}
}

// resolveDates asks the exchange calendar for recent workdays and falls
// back to plain weekday arithmetic when the calendar is unreachable or
// offline mode was requested.
func resolveDates(ctx context.Context, client *resty.Client, cfg *config.Config, offline bool) []time.Time {
	holidays := append([]string(nil), dates.DefaultHolidays...)
	holidays = append(holidays, cfg.Holidays...)

	if !offline {
		available, err := dates.NewProvider(client).Available(ctx, cfg.MaxDates)
		if err == nil {
			return available
		}
		slog.Warn("workday calendar unavailable, using weekday fallback", "error", err)
	}
	return dates.LastBusinessDays(time.Now(), cfg.MaxDates, holidays)
}

func printSummary(s *coordinator.Summary) {
	for _, report := range s.Reports {
		date := report.Date.Format(fetcher.DateLayout)
		for _, out := range report.Outcomes {
			if out.Status == fetcher.StatusSuccess {
				fmt.Printf("%s %s: OK (%d bytes, %d attempts)\n",
					date, out.Unit.Task.Name, len(out.Bytes), out.Attempts)
			} else {
				fmt.Printf("%s %s: ERROR - %v (%d attempts)\n",
					date, out.Unit.Task.Name, out.Err, out.Attempts)
			}
			if out.PersistErr != nil {
				fmt.Printf("%s %s: PERSIST ERROR - %v\n", date, out.Unit.Task.Name, out.PersistErr)
			}
		}
	}
	fmt.Println("================================================")
	fmt.Printf("Status: completed | dates: %d | success: %d | errors: %d | persist failures: %d\n",
		s.DatesProcessed, s.TotalSuccess, s.TotalErrors, s.PersistFailures)
}
