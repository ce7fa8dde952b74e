package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mohammed-shakir/nearby-search/internal/cache/cellindex"
	"github.com/mohammed-shakir/nearby-search/internal/cache/redisstore"
	"github.com/mohammed-shakir/nearby-search/internal/core/config"
	"github.com/mohammed-shakir/nearby-search/internal/core/health"
	"github.com/mohammed-shakir/nearby-search/internal/core/httpclient"
	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/core/observability"
	"github.com/mohammed-shakir/nearby-search/internal/core/ogc"
	"github.com/mohammed-shakir/nearby-search/internal/core/router"
	"github.com/mohammed-shakir/nearby-search/internal/core/server"
	"github.com/mohammed-shakir/nearby-search/internal/datasource"
	"github.com/mohammed-shakir/nearby-search/internal/geometry"
	"github.com/mohammed-shakir/nearby-search/internal/host"
	"github.com/mohammed-shakir/nearby-search/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/nearby-search/internal/logger"
	h3mapper "github.com/mohammed-shakir/nearby-search/internal/mapper/h3"
	"github.com/mohammed-shakir/nearby-search/internal/metrics"
	"github.com/mohammed-shakir/nearby-search/internal/rendered"
	"github.com/mohammed-shakir/nearby-search/internal/search"
	"github.com/mohammed-shakir/nearby-search/internal/searchevents"
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
		Service:   "nearby-search",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	prov := metrics.Init(metrics.Config{
		Addr: cfg.MetricsAddr,
		Path: cfg.MetricsPath,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(prov.Registerer())
	if cfg.MetricsEnabled {
		go func() {
			if err := prov.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}

	appLog.Info("starting nearby-search",
		"addr", cfg.Addr,
		"version", Version,
		"geometry_service", cfg.GeometryServiceURL,
		"geoserver", cfg.GeoServerURL)

	hostReg, err := host.FromConfig(cfg)
	if err != nil {
		appLog.Error("invalid host configuration", "err", err)
		return 1
	}

	httpClient := httpclient.NewOutbound(0)

	geoClient, err := geometry.New(appLog, httpClient, cfg.GeometryServiceURL, cfg.GeometryGeodesic)
	if err != nil {
		appLog.Error("failed to initialize geometry client", "err", err)
		return 1
	}
	var geo geometry.Service = geoClient
	if cfg.BufferCacheSize > 0 {
		cached, err := geometry.NewCached(geoClient, cfg.BufferCacheSize)
		if err != nil {
			appLog.Error("failed to initialize buffer cache", "err", err)
			return 1
		}
		geo = cached
	}

	wfs, err := datasource.NewWFS(appLog, httpClient, ogc.OWSEndpoint(cfg.GeoServerURL))
	if err != nil {
		appLog.Error("failed to initialize data source", "err", err)
		return 1
	}
	var source datasource.Source = wfs
	var queryCache *datasource.QueryCache
	if cfg.QueryCacheEnabled {
		dialCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rc, err := redisstore.New(dialCtx, cfg.RedisAddr)
		cancel()
		if err != nil {
			appLog.Warn("query cache disabled: redis unavailable", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer func() { _ = rc.Close() }()
			queryCache = datasource.NewQueryCache(appLog, wfs, rc, cellindex.NewRedisIndex(rc),
				h3mapper.New(), cfg.H3Res, cfg.QueryCacheTTL)
			source = queryCache
		}
	}

	layers := rendered.NewIndex()
	for _, ds := range hostReg.DataSources() {
		layers.Ensure(ds.ID, ds.ObjectIDField)
	}

	notifiers := search.Multi{search.LogNotifier{Logger: appLog}}
	if cfg.Events.Enabled {
		pub, err := searchevents.NewPublisher(config.SplitCSV(cfg.Events.Brokers), cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Warn("search events disabled", "err", err)
		} else {
			defer func() { _ = pub.Close() }()
			notifiers = append(notifiers, pub)
		}
	}

	deps := search.Deps{
		Host:          hostReg,
		Geometry:      geo,
		Source:        source,
		Rendered:      layers,
		Notifier:      notifiers,
		Logger:        appLog,
		BufferTimeout: cfg.BufferTimeout,
		QueryTimeout:  cfg.QueryTimeout,
	}
	searches, err := search.NewRegistry(deps, cfg.Searches)
	if err != nil {
		appLog.Error("invalid search configuration", "err", err)
		return 1
	}
	defer searches.Close()

	actions := map[string]search.Action{}
	for _, name := range search.ActionNames() {
		if name == search.ActionSearchNearby {
			continue
		}
		act, err := search.NewAction(name, name, model.SearchConfig{}, deps)
		if err != nil {
			appLog.Error("failed to initialize action", "action", name, "err", err)
			return 1
		}
		actions[name] = act
	}

	var ready health.ReadinessReporter
	if cfg.Invalidation.Enabled {
		if queryCache == nil {
			appLog.Warn("invalidation consumer not started: query cache is disabled")
		} else {
			cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, queryCache,
				h3mapper.New(), kafkaconsumer.WithEventLog(&zl))
			ready = cons
			go func() {
				if err := cons.Start(ctx); err != nil {
					appLog.Error("invalidation consumer exited", "err", err)
				}
			}()
		}
	}

	api := &router.API{Searches: searches, Actions: actions, Layers: layers, Logger: appLog}
	handler := server.NewHandler(appLog, api, ready, prov.Handler())
	if err := server.Run(ctx, cfg.Addr, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
