package app

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/osvaldoandrade/panoq/internal/backoff"
	"github.com/osvaldoandrade/panoq/internal/metrics"
	"github.com/osvaldoandrade/panoq/internal/middleware"
	"github.com/osvaldoandrade/panoq/internal/providers"
	"github.com/osvaldoandrade/panoq/internal/queue"
	"github.com/osvaldoandrade/panoq/internal/ratelimit"
	"github.com/osvaldoandrade/panoq/internal/services"
	"github.com/osvaldoandrade/panoq/internal/tracing"
	"github.com/osvaldoandrade/panoq/internal/worker"
	"github.com/osvaldoandrade/panoq/pkg/config"
	"github.com/osvaldoandrade/panoq/pkg/inference"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
)

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Logger          *slog.Logger
	Capability      inference.Capability
	Dispatcher      services.DispatchService
	Worker          *worker.Controller
	RateLimiter     ratelimit.Limiter
	TracingShutdown func(context.Context) error

	names               queue.Names
	redis               *redis.Client
	unregisterCollector func()
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithCapability replaces the backend selected by cfg.InferenceBackend.
func WithCapability(c inference.Capability) ApplicationOption {
	return func(app *Application) error {
		if c == nil {
			return errors.New("nil inference capability")
		}
		app.Capability = c
		return nil
	}
}

// WithLogger replaces the slog logger built from the config.
func WithLogger(logger *slog.Logger) ApplicationOption {
	return func(app *Application) error {
		app.Logger = logger
		return nil
	}
}

func NewApplication(cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{
		Config: cfg,
		names:  queue.Names{Task: cfg.TaskQueue, Result: cfg.ResultQueue},
	}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.Logger == nil {
		app.Logger = newLogger(cfg)
		slog.SetDefault(app.Logger)
	}
	logger := app.Logger

	shutdown, err := tracing.Setup(context.Background(), tracing.Config{
		Enabled:      cfg.TracingEnabled,
		ServiceName:  "panoq",
		Environment:  cfg.Env,
		OTLPEndpoint: cfg.OTLPEndpoint,
		OTLPInsecure: cfg.OTLPInsecure,
		SampleRatio:  cfg.TracingSampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	if app.Capability == nil {
		capability, err := inference.New(cfg.InferenceBackend, inference.Settings{
			ProjectRoot: cfg.ProjectRoot,
			OutputsDir:  cfg.OutputsDir,
			HFHome:      cfg.HFHome,
			PythonBin:   cfg.PythonBin,
			Script:      cfg.InferenceScript,
			RemoteURL:   cfg.RemoteInferenceURL,
			Views:       cfg.Views,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		app.Capability = capability
	}
	app.Dispatcher = services.NewDispatchService(app.Capability, logger)

	base, max := cfg.LoopBackoff()
	policy, err := backoff.NewPolicy(cfg.LoopBackoffPolicy, base, max)
	if err != nil {
		return nil, err
	}
	names := app.names
	app.Worker = worker.NewController(func() (worker.Broker, error) {
		q, err := queue.Dial(cfg.RedisURL, names)
		if err != nil {
			return nil, err
		}
		return q, nil
	}, worker.Options{
		PollTimeout:      cfg.PollTimeout(),
		InferenceTimeout: cfg.InferenceTimeout(),
		Backoff:          policy,
		Logger:           logger,
	})

	// The HTTP side keeps its own client for rate limiting and queue metrics;
	// the worker loop never shares it.
	redisClient, err := providers.NewRedisProvider(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	app.redis = redisClient
	app.RateLimiter = ratelimit.NewTokenBucketLimiter(redisClient)
	unregister, err := metrics.RegisterQueueCollector(prometheus.DefaultRegisterer, queue.New(redisClient, app.names), app.names, logger)
	if err != nil {
		_ = redisClient.Close()
		return nil, err
	}
	app.unregisterCollector = unregister

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware("panoq"),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	return app, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler).With("service", "panoq", "env", cfg.Env)
}

// StartWorker launches the queue consumer with the configured capability.
func (app *Application) StartWorker() bool {
	return app.Worker.Start(app.Capability)
}

// ProbeRedis dials a transient connection and pings it.
func (app *Application) ProbeRedis(ctx context.Context) error {
	q, err := queue.Dial(app.Config.RedisURL, app.names)
	if err != nil {
		return err
	}
	defer q.Close()
	return q.Ping(ctx)
}

// Shutdown signals the worker, waits for it until ctx expires, then releases
// the HTTP side's Redis client and flushes traces.
func (app *Application) Shutdown(ctx context.Context) error {
	app.Worker.Stop()
	var errs []error
	if err := app.Worker.Wait(ctx); err != nil {
		errs = append(errs, err)
	}
	if app.unregisterCollector != nil {
		app.unregisterCollector()
	}
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.TracingShutdown != nil {
		if err := app.TracingShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
