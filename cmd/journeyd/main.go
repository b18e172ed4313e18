// Command journeyd runs the workflow automation engine: it connects to
// NATS JetStream, opens the KV buckets behind the stores, wires the step
// processors and the trigger gate, and drives due executions until it
// receives SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/sync/errgroup"

	"github.com/c360/journeykit/analytics"
	"github.com/c360/journeykit/config"
	"github.com/c360/journeykit/contact"
	"github.com/c360/journeykit/delivery"
	"github.com/c360/journeykit/engine"
	"github.com/c360/journeykit/executionstore"
	"github.com/c360/journeykit/frequency"
	"github.com/c360/journeykit/health"
	"github.com/c360/journeykit/metric"
	"github.com/c360/journeykit/natsclient"
	"github.com/c360/journeykit/processor"
	"github.com/c360/journeykit/template"
	"github.com/c360/journeykit/trigger"
	"github.com/c360/journeykit/workflowstore"
)

const appName = "journeyd"

// Version information, set at build time via -ldflags
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 1<<16)
			n := runtime.Stack(buf, false)
			fmt.Fprintf(os.Stderr, "%s panicked: %v\n%s\n", appName, r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cli := parseFlags()

	if cli.ShowVersion {
		fmt.Printf("%s %s (built %s)\n", appName, Version, BuildTime)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}
	if err := validateFlags(cli); err != nil {
		return err
	}

	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// CLI flags win over file and environment settings.
	if cli.LogLevel != "" {
		cfg.Logging.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Logging.Format = cli.LogFormat
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	if cli.Validate {
		fmt.Println("Configuration is valid")
		return nil
	}

	logger.Info("starting",
		"environment", cfg.Service.Environment,
		"nats_urls", cfg.NATS.URLs,
		"tick_interval", cfg.Engine.TickInterval,
		"workers", cfg.Engine.Workers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := metric.NewRegistry()
	coreMetrics := metric.NewMetrics()
	if err := coreMetrics.Register(metrics); err != nil {
		return fmt.Errorf("register core metrics: %w", err)
	}

	// A subsystem that misses four ticks in a row reads as unhealthy.
	monitor := health.NewMonitor(health.WithStaleness(4 * cfg.Engine.TickInterval))

	client, err := natsclient.NewClient(natsURL(cfg.NATS),
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithClientLogger(logger),
		natsclient.WithMetrics(coreMetrics),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	monitor.Healthy("nats", "connected")
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
		defer cancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("NATS close failed", "error", err)
		}
	}()

	eng, err := buildEngine(ctx, cfg, client, coreMetrics, metrics, monitor, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("engine started", "worker_id", eng.WorkerID())
		if err := eng.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("engine: %w", err)
		}
		return nil
	})

	if cfg.Metrics.Enabled {
		server := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics,
			metric.WithHealth(monitor))
		g.Go(func() error {
			logger.Info("metrics server listening", "address", server.Address())
			if err := server.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return server.Stop()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// buildEngine opens the KV buckets and assembles the stores, processors,
// gate, and aggregator behind a ready-to-run engine.
func buildEngine(ctx context.Context, cfg *config.Config, client *natsclient.Client,
	coreMetrics *metric.Metrics, metrics *metric.Registry,
	monitor *health.Monitor, logger *slog.Logger) (*engine.Engine, error) {

	workflowsKV, err := openBucket(ctx, client, workflowstore.Bucket)
	if err != nil {
		return nil, err
	}
	execKV, err := openBucket(ctx, client, executionstore.ExecutionBucket)
	if err != nil {
		return nil, err
	}
	dueKV, err := openBucket(ctx, client, executionstore.DueIndexBucket)
	if err != nil {
		return nil, err
	}
	pairKV, err := openBucket(ctx, client, executionstore.PairIndexBucket)
	if err != nil {
		return nil, err
	}
	freqKV, err := openBucket(ctx, client, frequency.Bucket)
	if err != nil {
		return nil, err
	}

	workflows := workflowstore.NewKV(workflowsKV)
	executions := executionstore.NewKV(execKV, dueKV, pairKV,
		executionstore.WithKVLogger(logger))
	limiter := frequency.NewKV(freqKV)

	// Contacts and templates are in-process stores until the platform's
	// contact and content services are reachable from here.
	contacts := contact.NewMemoryStore()
	templates := template.NewMemory()

	var provider delivery.Provider
	switch cfg.Delivery.Provider {
	case "memory":
		provider = delivery.NewMemory()
	default:
		return nil, fmt.Errorf("unknown delivery provider: %s", cfg.Delivery.Provider)
	}

	webhooks := delivery.NewCaller(
		delivery.WithTimeout(cfg.Delivery.WebhookTimeout),
		delivery.WithRateLimit(cfg.Delivery.WebhookRateLimit, cfg.Delivery.WebhookBurst),
	)

	registry := processor.NewRegistry()
	message := processor.NewMessage(templates, provider, limiter,
		processor.WithMessageMetrics(coreMetrics),
		processor.WithMessageLogger(logger))
	for _, p := range []processor.Processor{
		message,
		processor.NewWait(nil),
		processor.NewCondition(logger),
		processor.NewAction(contacts, webhooks, logger),
		processor.NewSplitTest(message, logger),
	} {
		if err := registry.Register(p); err != nil {
			return nil, fmt.Errorf("register processor: %w", err)
		}
	}

	gate := trigger.NewGate(executions, trigger.WithLogger(logger))

	aggregator, err := analytics.NewAggregator(metrics)
	if err != nil {
		return nil, fmt.Errorf("create analytics aggregator: %w", err)
	}

	eng, err := engine.NewEngine(cfg.Engine,
		workflows, executions, contacts, gate, registry, aggregator, metrics,
		engine.WithLogger(logger),
		engine.WithHealth(monitor))
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	return eng, nil
}

func openBucket(ctx context.Context, client *natsclient.Client, name string) (*natsclient.KVStore, error) {
	bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:  name,
		History: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", name, err)
	}
	return client.NewKVStore(bucket), nil
}

// natsURL injects configured credentials into the first connection URL.
func natsURL(cfg config.NATSConfig) string {
	raw := cfg.URLs[0]
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch {
	case cfg.Token != "":
		parsed.User = url.User(cfg.Token)
	case cfg.Username != "":
		parsed.User = url.UserPassword(cfg.Username, cfg.Password)
	default:
		return raw
	}
	return parsed.String()
}
