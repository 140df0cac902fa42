package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/AshkanYarmoradi/ordermesh"
	"github.com/AshkanYarmoradi/ordermesh/adapters"
	"github.com/AshkanYarmoradi/ordermesh/adapters/memory"
	"github.com/AshkanYarmoradi/ordermesh/adapters/mongodb"
	"github.com/AshkanYarmoradi/ordermesh/adapters/mysql"
	"github.com/AshkanYarmoradi/ordermesh/adapters/postgres"
	"github.com/AshkanYarmoradi/ordermesh/config"
	"github.com/AshkanYarmoradi/ordermesh/logging"
	"github.com/AshkanYarmoradi/ordermesh/middleware/metrics"
	"github.com/AshkanYarmoradi/ordermesh/middleware/tracing"
	"github.com/AshkanYarmoradi/ordermesh/stream"
	"github.com/AshkanYarmoradi/ordermesh/stream/kafka"
	redisstream "github.com/AshkanYarmoradi/ordermesh/stream/redis"
)

// runtime holds the process-wide dependencies built from the config.
type runtime struct {
	cfg *config.Config

	zap    *zap.Logger
	logger *logging.Logger

	// raw is the unwrapped store; store adds tracing and metrics.
	raw   adapters.TransactionalStore
	store adapters.TransactionalStore

	propagator propagation.TextMapPropagator
	tracer     *tracing.Tracer
	metrics    *metrics.Metrics
	registry   *prometheus.Registry

	closers []func(context.Context) error
}

func newRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %v", problems)
	}

	z, err := logging.Build(logging.Options{
		Level:  cfg.Observability.Log.Level,
		Format: cfg.Observability.Log.Format,
	})
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:        cfg,
		zap:        z,
		logger:     logging.New(z).With("service", cfg.Service.Name),
		propagator: propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
		registry:   prometheus.NewRegistry(),
	}
	otel.SetTextMapPropagator(rt.propagator)

	if cfg.Observability.Tracing.Enabled && cfg.Observability.Tracing.Exporter == "stdout" {
		tp, err := tracing.NewStdoutProvider(os.Stderr, cfg.Service.Name)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		rt.closers = append(rt.closers, tp.Shutdown)
	}
	rt.tracer = tracing.NewTracer(
		tracing.WithTracerProvider(otel.GetTracerProvider()),
		tracing.WithServiceName(cfg.Service.Name),
	)

	rt.metrics = metrics.New(
		metrics.WithNamespace(cfg.Observability.Metrics.Namespace),
		metrics.WithMetricsServiceName(cfg.Service.Name),
	)
	if err := rt.metrics.Register(rt.registry); err != nil {
		return nil, err
	}

	raw, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	rt.raw = raw
	rt.store = rt.metrics.WrapStore(tracing.NewStoreMiddleware(raw, rt.tracer))
	rt.closers = append(rt.closers, func(context.Context) error { return raw.Close() })

	return rt, nil
}

// openStore connects the configured transactional store.
func openStore(ctx context.Context, cfg config.StorageConfig) (adapters.TransactionalStore, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewAdapter(), nil

	case config.DriverPostgres:
		opts := []postgres.Option{postgres.WithSchema(cfg.Postgres.Schema)}
		if cfg.Postgres.MaxConnections > 0 {
			opts = append(opts, postgres.WithMaxConnections(cfg.Postgres.MaxConnections))
		}
		return postgres.NewAdapter(os.ExpandEnv(cfg.Postgres.URL), opts...)

	case config.DriverMySQL:
		mc := mysql.Config{
			Host:            cfg.MySQL.Host,
			Port:            cfg.MySQL.Port,
			Username:        cfg.MySQL.Username,
			Password:        os.ExpandEnv(cfg.MySQL.Password),
			Database:        cfg.MySQL.Database,
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			LogLevel:        cfg.MySQL.LogLevel,
		}
		db, err := mc.Connect()
		if err != nil {
			return nil, err
		}
		return mysql.NewAdapter(db), nil

	case config.DriverMongoDB:
		return mongodb.Connect(os.ExpandEnv(cfg.MongoDB.URI), mongodb.WithDatabase(cfg.MongoDB.Database))

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// repositoryOptions are shared by every domain repository.
func (rt *runtime) repositoryOptions() []ordermesh.RepositoryOption {
	return []ordermesh.RepositoryOption{
		ordermesh.WithLogger(rt.logger),
		ordermesh.WithMetadataInjector(tracing.NewMetadataInjector(rt.propagator)),
	}
}

func (rt *runtime) streamOptions() adapters.StreamOptions {
	return adapters.StreamOptions{
		BatchSize:    rt.cfg.Stream.BatchSize,
		PollInterval: rt.cfg.Stream.PollInterval,
	}
}

// storeStream opens the store's own change stream for consumer.
func (rt *runtime) storeStream(ctx context.Context, consumer string) (adapters.ChangeStream, error) {
	provider, ok := rt.raw.(adapters.ChangeStreamProvider)
	if !ok {
		return nil, fmt.Errorf("storage driver %s has no change stream", rt.cfg.Storage.Driver)
	}
	return provider.ChangeStream(ctx, consumer, rt.streamOptions())
}

// routerSource opens the change stream the router consumes.
func (rt *runtime) routerSource(ctx context.Context) (adapters.ChangeStream, error) {
	sc := rt.cfg.Stream
	switch sc.Source {
	case config.SourceKafka:
		return kafka.NewSource(sc.Kafka.Brokers, sc.Kafka.Topic, sc.Kafka.Group, rt.streamOptions()), nil
	case config.SourceRedis:
		client := rt.redisClient()
		return redisstream.NewSource(client, sc.Redis.Stream, sc.Redis.Group, sc.Consumer, rt.streamOptions()), nil
	default:
		return rt.storeStream(ctx, sc.Consumer)
	}
}

// publisher returns the broker publisher the relay writes to.
func (rt *runtime) publisher() (stream.Publisher, error) {
	sc := rt.cfg.Stream
	switch sc.Source {
	case config.SourceKafka:
		p := kafka.New(kafka.WithBrokers(sc.Kafka.Brokers...), kafka.WithTopic(sc.Kafka.Topic))
		rt.closers = append(rt.closers, func(context.Context) error { return p.Close() })
		return p, nil
	case config.SourceRedis:
		return redisstream.New(rt.redisClient(), redisstream.WithStream(sc.Redis.Stream)), nil
	default:
		return nil, errors.New("the relay needs stream.source kafka or redis")
	}
}

func (rt *runtime) redisClient() *goredis.Client {
	rc := rt.cfg.Stream.Redis
	client := goredis.NewClient(&goredis.Options{
		Addr:     rc.Addr,
		Password: os.ExpandEnv(rc.Password),
		DB:       rc.DB,
	})
	rt.closers = append(rt.closers, func(context.Context) error { return client.Close() })
	return client
}

// snsClient builds an SNS client from the standard AWS environment variables.
func (rt *runtime) snsClient() *sns.Client {
	creds := aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
			Source:          "environment",
		}, nil
	})
	return sns.New(sns.Options{
		Region:      rt.cfg.Router.AWSRegion,
		Credentials: aws.NewCredentialsCache(creds),
	})
}

// serveMetrics exposes the registry on the configured address until ctx is
// done. It does nothing when metrics are disabled.
func (rt *runtime) serveMetrics(ctx context.Context) {
	mc := rt.cfg.Observability.Metrics
	if !mc.Enabled {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(rt.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: mc.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("Metrics server failed", "addr", mc.Addr, "error", err)
		}
	}()
	rt.closers = append(rt.closers, srv.Shutdown)
	rt.logger.Info("Serving metrics", "addr", mc.Addr)
}

// Close releases everything in reverse order of creation.
func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			rt.logger.Warn("Shutdown step failed", "error", err)
		}
	}
	_ = rt.zap.Sync()
}
