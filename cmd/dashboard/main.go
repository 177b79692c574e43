package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache/redisstore"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/cache/resultstore"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/config"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/health"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/httpclient"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/model"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/observability"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/core/server"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/geocode"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/imagery/stac"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/invalidation/kafka"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/logger"
	h3mapper "github.com/mohammed-shakir/lake-ndvi-trends/internal/mapper/h3"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/metrics"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/publish"
	"github.com/mohammed-shakir/lake-ndvi-trends/internal/web"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "dashboard",
		Version:   Version,
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.MetricsEnabled,
		Addr:    cfg.MetricsAddr,
		Path:    cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)
	observability.ExposeBuildInfo(Version)
	if cfg.MetricsEnabled && cfg.MetricsAddr != "" {
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	appLog.Info("starting dashboard",
		"addr", cfg.Addr,
		"version", Version,
		"stac", cfg.STACURL,
		"redis", cfg.RedisAddr != "",
		"invalidation", cfg.Invalidation.Enabled,
		"publish", cfg.Publish.Enabled)

	hc := httpclient.NewOutbound(httpclient.Options{UserAgent: cfg.UserAgent})
	sc, err := stac.New(stac.Config{
		URL:     cfg.STACURL,
		SignURL: cfg.STACSignURL,
		RPS:     cfg.STACRPS,
		Burst:   cfg.STACBurst,

		MaxAssetBytes: cfg.AssetMaxBytes,
	}, hc, appLog)
	if err != nil {
		appLog.Error("failed to initialize stac client", "err", err)
		return 1
	}
	fetch := imagery.NewCached(sc, cfg.FetchCacheSize, appLog)
	m := h3mapper.New()

	deps := web.Deps{
		Fetcher:  fetch,
		Resolver: geocode.Resolver{Geocoder: geocode.NewNominatim(cfg.NominatimURL, hc, appLog)},
		Mapper:   m,
		Res:      cfg.H3Res,
		Analysis: cfg.Analysis,
		MemoSize: cfg.MemoSize,
		Logger:   appLog,

		RunTimeout: cfg.RunTimeout,
	}
	ready := map[string]health.Check{}

	var store *resultstore.Store
	if cfg.RedisAddr != "" {
		dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := redisstore.New(dialCtx, cfg.RedisAddr, redisstore.WithOpTimeout(cfg.CacheOpTimeout))
		cancel()
		if err != nil {
			appLog.Error("failed to connect to redis", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		store = resultstore.New(rc, m, cfg.H3Res, cfg.ResultTTL, appLog)
		deps.Store = store
		ready["redis"] = rc.Ping
	}

	if cfg.Publish.Enabled {
		pub, err := publish.NewKafka(kafka.SplitBrokers(cfg.Publish.Brokers), cfg.Publish.Topic, appLog)
		if err != nil {
			appLog.Error("failed to initialize trend publisher", "err", err)
			return 1
		}
		defer func() { _ = pub.Close() }()
		deps.Publisher = pub
	}

	ws, err := web.New(deps)
	if err != nil {
		appLog.Error("failed to initialize web handlers", "err", err)
		return 1
	}

	kcfg := kafka.FromConfig(cfg.Invalidation)
	if kcfg.Enabled && kcfg.Driver == kafka.DriverKafka {
		if store == nil {
			appLog.Warn("invalidation enabled without REDIS_ADDR; only in-process caches are purged")
		}
		var inv kafka.Invalidator = noStore{res: cfg.H3Res}
		if store != nil {
			inv = store
		}
		runner := kafka.New(kcfg, inv, m, kafka.Options{
			Logger:   appLog,
			Register: p.Registerer(),
			Purgers:  []kafka.Purger{fetch, ws},
		})
		if err := runner.Start(ctx); err != nil {
			appLog.Error("failed to start invalidation consumer", "err", err)
			return 1
		}
		defer runner.Stop()
		ready["invalidation"] = health.Consumer(runner)
	}

	opts := server.Options{
		Addr:  cfg.Addr,
		Ready: ready,
		Mount: func(r chi.Router) { ws.Routes(r) },
	}
	if cfg.MetricsEnabled && cfg.MetricsAddr == "" {
		opts.Metrics = p.Handler()
	}
	if err := server.Run(ctx, opts, appLog); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// noStore lets the invalidation runner purge in-process caches when no
// shared result store is configured.
type noStore struct{ res int }

func (n noStore) Invalidate(context.Context, model.Cells) (int, error) { return 0, nil }
func (n noStore) Res() int                                             { return n.res }
