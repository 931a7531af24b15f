package di

import (
	"fmt"

	"KellyMux/internal/domain/models"
	"KellyMux/internal/domain/repository"
	"KellyMux/internal/handler/api"
	internalrepo "KellyMux/internal/repository"
	"KellyMux/internal/usecase"
	"KellyMux/pkg/config"
	xhttp "KellyMux/pkg/http"
	xlogger "KellyMux/pkg/logger"
	"KellyMux/pkg/metrics"
	"KellyMux/pkg/server"
)

// ProvideLogger builds the root logger from config.
func ProvideLogger(cfg *config.Config) (*xlogger.Logger, error) {
	l, err := xlogger.New(&xlogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	return l.With(xlogger.String("env", cfg.Environment)), nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideMultiplexer creates the aggregation engine seeded from config.
func ProvideMultiplexer(cfg *config.Config, logger *xlogger.Logger, m repository.Metrics) (*usecase.Multiplexer, error) {
	mc := cfg.Multiplexer
	policy := usecase.AutoRegister
	if mc.UnknownPolicy == config.PolicyReject {
		policy = usecase.Reject
	}
	seed := make(map[string]models.StrategyParams, len(mc.Clients))
	for _, c := range mc.Clients {
		seed[c.ID] = models.StrategyParams{Mu: c.Mu, Sigma: c.Sigma}
	}
	mux, err := usecase.NewMultiplexer(usecase.MultiplexerConfig{
		KellyFraction: mc.KellyFraction,
		AggregateID:   mc.AggregateID,
		Defaults:      models.StrategyParams{Mu: mc.DefaultMu, Sigma: mc.DefaultSigma},
		Policy:        policy,
		StaleAfter:    mc.StaleAfter,
	}, seed, logger, m)
	if err != nil {
		return nil, fmt.Errorf("multiplexer: %w", err)
	}
	return mux, nil
}

// ProvideAdminService creates the registry command service.
func ProvideAdminService(mux *usecase.Multiplexer, logger *xlogger.Logger, m repository.Metrics) *usecase.AdminService {
	return usecase.NewAdminService(mux, logger, m)
}

// ProvideIngest selects the ingest backend.
func ProvideIngest(cfg *config.Config, logger *xlogger.Logger, m repository.Metrics) (repository.IngestListener, error) {
	ic := cfg.Ingest
	switch ic.Backend {
	case config.BackendMemory:
		return internalrepo.NewMemoryIngest(ic.BufferSize, logger, m), nil
	case config.BackendWebSocket:
		return internalrepo.NewWSIngest(internalrepo.WSIngestConfig{
			Addr:       ic.Addr,
			Path:       ic.Path,
			BufferSize: ic.BufferSize,
		}, logger, m), nil
	case config.BackendKafka:
		k, err := internalrepo.NewKafkaIngest(internalrepo.KafkaIngestConfig{
			Brokers:    ic.Kafka.Brokers,
			Topic:      ic.Kafka.Topic,
			GroupID:    ic.Kafka.GroupID,
			StartLast:  ic.Kafka.StartLast,
			BufferSize: ic.Kafka.BufferSize,
			MinBytes:   ic.Kafka.MinBytes,
			MaxBytes:   ic.Kafka.MaxBytes,
		}, logger, m)
		if err != nil {
			return nil, fmt.Errorf("kafka ingest: %w", err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("unknown ingest backend %q", ic.Backend)
	}
}

// ProvideOutput selects the output backend.
func ProvideOutput(cfg *config.Config, logger *xlogger.Logger, m repository.Metrics) (repository.OutputPublisher, error) {
	oc := cfg.Output
	switch oc.Backend {
	case config.BackendMemory:
		return internalrepo.NewMemoryPublisher(m), nil
	case config.BackendWebSocket:
		return internalrepo.NewWSPublisher(internalrepo.WSPublisherConfig{
			Addr:     oc.Addr,
			Path:     oc.Path,
			Envelope: oc.Envelope,
		}, logger, m), nil
	case config.BackendKafka:
		k, err := internalrepo.NewKafkaPublisher(internalrepo.KafkaPublisherConfig{
			Brokers:      oc.Kafka.Brokers,
			Topic:        oc.Kafka.Topic,
			RequiredAcks: oc.Kafka.RequiredAcks,
			Compression:  oc.Kafka.Compression,
			WriteTimeout: oc.Kafka.WriteTimeout,
			Async:        oc.Kafka.Async,
			Envelope:     oc.Envelope,
		}, logger, m)
		if err != nil {
			return nil, fmt.Errorf("kafka output: %w", err)
		}
		return k, nil
	case config.BackendRedis:
		return internalrepo.NewRedisPublisher(internalrepo.RedisPublisherConfig{
			Addr:     oc.Redis.Addr,
			Password: oc.Redis.Password,
			DB:       oc.Redis.DB,
			Channel:  oc.Redis.Channel,
			Envelope: oc.Envelope,
		}, logger, m), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", oc.Backend)
	}
}

// ProvidePortfolioCollector connects ingest, engine and output.
func ProvidePortfolioCollector(
	ingest repository.IngestListener,
	mux *usecase.Multiplexer,
	out repository.OutputPublisher,
	logger *xlogger.Logger,
	m repository.Metrics,
) *usecase.PortfolioCollector {
	return usecase.NewPortfolioCollector(ingest, mux, out, logger, m)
}

// ProvideLifecycle creates the lifecycle shared by the app and /healthz.
func ProvideLifecycle() *server.Lifecycle {
	return server.NewLifecycle()
}

// ProvideStateSource exposes the lifecycle phase to the admin handler.
func ProvideStateSource(lc *server.Lifecycle) api.StateSource {
	return lc.String
}

// ProvideAdminHandler creates the admin HTTP handler.
func ProvideAdminHandler(logger *xlogger.Logger, admin *usecase.AdminService, mux *usecase.Multiplexer, state api.StateSource) *api.AdminEchoHandler {
	return api.NewAdminEchoHandler(logger, admin, mux, state)
}

// ProvideAdminServer creates the admin HTTP server; it also exposes /metrics.
func ProvideAdminServer(cfg *config.Config, logger *xlogger.Logger, h *api.AdminEchoHandler) *xhttp.Server {
	return xhttp.NewServer(h,
		xhttp.WithName("admin"),
		xhttp.WithAddr(cfg.Admin.Addr),
		xhttp.WithTimeouts(cfg.Admin.ReadTimeout, cfg.Admin.WriteTimeout),
		xhttp.WithMetricsEndpoint(true),
		xhttp.WithLogger(logger),
	)
}

// ProvideApp creates the application server.
func ProvideApp(cfg *config.Config, collector *usecase.PortfolioCollector, admin *xhttp.Server, lc *server.Lifecycle, logger *xlogger.Logger) *server.App {
	return server.New(collector, admin, lc, logger, cfg.ShutdownTimeout)
}
