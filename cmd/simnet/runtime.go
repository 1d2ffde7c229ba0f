package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goclaw/simnet/config"
	"github.com/goclaw/simnet/pkg/api"
	"github.com/goclaw/simnet/pkg/api/events"
	"github.com/goclaw/simnet/pkg/api/handlers"
	"github.com/goclaw/simnet/pkg/engine"
	"github.com/goclaw/simnet/pkg/logger"
	"github.com/goclaw/simnet/pkg/metrics"
	"github.com/goclaw/simnet/pkg/signal"
	"github.com/goclaw/simnet/pkg/simulation"
	"github.com/goclaw/simnet/pkg/sorter"
	"github.com/goclaw/simnet/pkg/storage"
	"github.com/goclaw/simnet/pkg/storage/badger"
	"github.com/goclaw/simnet/pkg/storage/memory"
	"github.com/goclaw/simnet/pkg/telemetry/tracing"
	"github.com/goclaw/simnet/pkg/trace"
	"github.com/goclaw/simnet/pkg/version"
)

const redisPingTimeout = 3 * time.Second

// runtime is everything a command needs to run networks.
type runtime struct {
	cfg       *config.Config
	log       logger.Logger
	metrics   *metrics.Manager
	store     storage.Storage
	events    *events.Broadcaster
	engine    *engine.Engine
	service   *simulation.Service
	redis     redis.UniversalClient
	shutdowns []func(context.Context) error
}

func newLogger(cfg *config.Config) logger.Logger {
	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.App.Debug {
		level = logger.DebugLevel
	}
	return logger.New(&logger.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

func newStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "badger":
		return badger.NewBadgerStorage(&badger.Config{
			Path:              cfg.Badger.Path,
			SyncWrites:        cfg.Badger.SyncWrites,
			ValueLogFileSize:  cfg.Badger.ValueLogFileSize,
			NumVersionsToKeep: cfg.Badger.NumVersionsToKeep,
		})
	case "memory", "":
		return memory.NewMemoryStorage(), nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func newMetrics(cfg config.MetricsConfig) *metrics.Manager {
	mc := metrics.DefaultConfig()
	mc.Enabled = cfg.Enabled
	mc.Port = cfg.Port
	mc.Path = cfg.Path
	return metrics.NewManager(mc)
}

// newRuntime assembles logging, tracing, metrics, storage, the engine and
// the simulation service from cfg. The caller must Close it.
func newRuntime(ctx context.Context, cfg *config.Config) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg, log: newLogger(cfg)}
	logger.SetGlobal(rt.log)
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, tracing.Service{
		Name:        cfg.App.Name,
		Version:     version.Version,
		Environment: cfg.App.Environment,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	rt.shutdowns = append(rt.shutdowns, shutdownTracing)

	rt.metrics = newMetrics(cfg.Metrics)
	signal.SetMetricsRecorder(rt.metrics)
	trace.SetMetricsRecorder(rt.metrics)

	rt.store, err = newStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	rt.log.Debug("storage ready", "type", cfg.Storage.Type)

	rt.events = events.NewBroadcaster()
	rt.engine = engine.New(engine.Config{
		Name:     cfg.App.Name,
		FailFast: cfg.Simulation.FailFast,
		Timeout:  cfg.Simulation.Timeout,
	},
		engine.WithLogger(rt.log),
		engine.WithMetrics(rt.metrics),
		engine.WithStorage(rt.store),
		engine.WithEventBroadcaster(rt.events),
	)

	sinks, err := rt.sinks(ctx)
	if err != nil {
		return nil, err
	}
	rt.service = simulation.NewService(rt.engine,
		simulation.WithLogger(rt.log),
		simulation.WithTraceConfig(trace.Config{
			BufferSize:    cfg.Trace.BufferSize,
			BatchSize:     cfg.Trace.BatchSize,
			FlushInterval: cfg.Trace.FlushInterval,
		}),
		simulation.WithSinks(sinks...),
	)
	return rt, nil
}

func (rt *runtime) sinks(ctx context.Context) ([]trace.Sink, error) {
	var sinks []trace.Sink
	tc := rt.cfg.Trace
	if tc.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     tc.Redis.Address,
			Password: tc.Redis.Password,
			DB:       tc.Redis.DB,
		})
		rt.redis = client
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("connect redis trace sink at %s: %w", tc.Redis.Address, err)
		}
		sinks = append(sinks, trace.NewRedisSink(client, tc.Redis.StreamPrefix, tc.Redis.MaxLen))
		rt.log.Info("redis trace sink enabled", "address", tc.Redis.Address, "prefix", tc.Redis.StreamPrefix)
	}
	if tc.Stream.Enabled {
		sinks = append(sinks, trace.NewBroadcastSink(rt.events, tc.Stream.Rate, tc.Stream.Burst))
	}
	return sinks, nil
}

// requestFromConfig builds a run request from the simulation and trace
// sections.
func requestFromConfig(cfg *config.Config) (simulation.Request, error) {
	sc := cfg.Simulation
	req := simulation.Request{
		Sorter: sorter.Config{
			Addresses:   sc.Addresses,
			PayloadSize: sc.PayloadSize,
			Seed:        sc.Seed,
			Depth:       sc.Depth,
		},
		FanIn:    sc.FanIn,
		Trace:    cfg.Trace.Enabled,
		FailFast: &sc.FailFast,
		Timeout:  &sc.Timeout,
	}
	if sc.Manifest != "" {
		data, err := os.ReadFile(sc.Manifest)
		if err != nil {
			return simulation.Request{}, fmt.Errorf("read manifest: %w", err)
		}
		req.Manifest = data
		req.Format = manifestFormat(sc.Manifest)
		req.Metadata = map[string]string{"manifest": sc.Manifest}
	}
	return req, nil
}

func manifestFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

// handlers builds the HTTP handlers over the runtime.
func (rt *runtime) handlers(defaults simulation.Request) *api.Handlers {
	cfg := rt.cfg
	var wsMetrics handlers.WebSocketMetrics
	if rt.metrics.Enabled() {
		wsMetrics = rt.metrics
	}
	h := &api.Handlers{
		Runs: handlers.NewRunHandler(rt.service, handlers.RunDefaults{
			Sorter: defaults.Sorter,
			Trace:  defaults.Trace,
		}, rt.log),
		Health: handlers.NewHealthHandler(rt.engine),
		WebSocket: handlers.NewWebSocketHandler(rt.log, handlers.WebSocketConfig{
			AllowedOrigins: cfg.Server.CORS.AllowedOrigins,
			MaxConnections: cfg.Server.WebSocket.MaxConnections,
			PingInterval:   cfg.Server.WebSocket.PingInterval,
			WriteTimeout:   cfg.Server.WebSocket.WriteTimeout,
			Metrics:        wsMetrics,
		}),
		Tracing: cfg.Tracing.Enabled,
	}
	if rt.metrics.Enabled() {
		h.Metrics = rt.metrics
		if separateMetricsPort(cfg) {
			return h
		}
		h.MetricsHandler = rt.metrics.Handler()
	}
	return h
}

func separateMetricsPort(cfg *config.Config) bool {
	return cfg.Metrics.Port > 0 && cfg.Metrics.Port != cfg.Server.Port
}

// Close shuts the engine down, then releases sinks, storage and tracing.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.engine != nil {
		if err := rt.engine.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
		}
	}
	if rt.events != nil {
		rt.events.Close()
	}
	if rt.redis != nil {
		if err := rt.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	for i := len(rt.shutdowns) - 1; i >= 0; i-- {
		if err := rt.shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	signal.SetMetricsRecorder(nil)
	trace.SetMetricsRecorder(nil)
	return errors.Join(errs...)
}
