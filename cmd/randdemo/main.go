package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/adamwoolhether/randrpc"
	"github.com/adamwoolhether/randrpc/client"
	"github.com/adamwoolhether/randrpc/client/metrics"
)

type Config struct {
	APIKey          string        `envconfig:"API_KEY" required:"true"`
	Endpoint        string        `envconfig:"ENDPOINT" default:"https://api.random.org/json-rpc/4/invoke"`
	BlockingTimeout time.Duration `envconfig:"BLOCKING_TIMEOUT" default:"1m"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"2m"`
	CacheSize       int           `envconfig:"CACHE_SIZE" default:"20"`
	Draws           int           `envconfig:"DRAWS" default:"3"`
	N               int           `envconfig:"N" default:"6"`
	Min             int           `envconfig:"MIN" default:"1"`
	Max             int           `envconfig:"MAX" default:"49"`
	Unique          bool          `envconfig:"UNIQUE" default:"true"`
	MetricsAddr     string        `envconfig:"METRICS_ADDR"`
	Debug           bool          `envconfig:"DEBUG"`
}

func main() {
	loadEnvFile()

	var cfg Config
	if err := envconfig.Process("RANDDEMO", &cfg); err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("randdemo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reg := prometheus.NewRegistry()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			return srv.Shutdown(sctx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return draw(ctx, cfg, logger, reg)
	})

	return g.Wait()
}

func draw(ctx context.Context, cfg Config, logger *slog.Logger, reg prometheus.Registerer) error {
	c, err := randrpc.Lookup(cfg.APIKey,
		client.WithEndpoint(cfg.Endpoint),
		client.WithBlockingTimeout(cfg.BlockingTimeout),
		client.WithHTTPTimeout(cfg.HTTPTimeout),
		client.WithUserAgent("randdemo/1.0"),
		client.WithLogger(logger),
		client.WithMetrics(metrics.New(reg)),
	)
	if err != nil {
		return err
	}

	cache, err := c.IntegerCache(ctx,
		client.IntegerRequest{N: cfg.N, Min: cfg.Min, Max: cfg.Max, Unique: cfg.Unique},
		client.WithCacheSize(cfg.CacheSize),
	)
	if err != nil {
		return err
	}
	defer cache.Stop()

	for i := range cfg.Draws {
		set, err := cache.GetOrWait(ctx)
		if err != nil {
			return err
		}
		logger.Info("draw", "index", i, "values", set, "cached", cache.CachedValues())
	}

	bits, err := c.BitsLeft(ctx)
	if err != nil {
		return err
	}
	requests, err := c.RequestsLeft(ctx)
	if err != nil {
		return err
	}
	logger.Info("allowance", "bits_left", bits, "requests_left", requests, "cache_bits_used", cache.BitsUsed(), "cache_requests_used", cache.RequestsUsed())

	return nil
}

func loadEnvFile() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			slog.Error("loading .env file", "error", err)
			os.Exit(1)
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("unexpected error looking for .env file", "error", err)
	}
}
