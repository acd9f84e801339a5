package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/LeonardoBeccarini/smartgarden/internal/config"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/telemetry"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/timeseries"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("TELEMETRY_CONFIG"), "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("telemetry terminated", "err", err)
		os.Exit(1)
	}
	logger.Info("telemetry: shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Registry (Postgres) ---
	pool, err := pgxpool.New(ctx, cfg.Postgres.ConnString)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	identities := registry.NewPostgres(pool)
	if err := identities.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}

	// --- Stato dei device (Redis) ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	statuses := registry.NewStatusStore(rdb, cfg.Redis.StatusTTL)

	// --- InfluxDB ---
	influx := influxdb2.NewClientWithOptions(cfg.Influx.URL, cfg.Influx.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(cfg.Influx.Timeout/time.Second)))
	defer influx.Close()
	writer := timeseries.NewWriter(influx.WriteAPIBlocking(cfg.Influx.Org, cfg.Influx.Bucket), cfg.Influx.Measurement)
	queries := timeseries.NewQueryEngine(influx.QueryAPI(cfg.Influx.Org), influx.DeleteAPI(), timeseries.QueryConfig{
		Org:             cfg.Influx.Org,
		Bucket:          cfg.Influx.Bucket,
		Measurement:     cfg.Influx.Measurement,
		BreakerFailures: cfg.Influx.BreakerFailures,
		BreakerOpenFor:  cfg.Influx.BreakerOpenFor,
	}, logger)

	// --- Metriche ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// --- MQTT ---
	conn := mqttclient.NewManager(mqttclient.Config{
		Host:           cfg.MQTT.Host,
		Port:           cfg.MQTT.Port,
		User:           cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		ClientID:       cfg.MQTT.ClientID,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		RetryDelay:     cfg.MQTT.ReconnectPeriod,
	}, logger)
	conn.OnStateChange(func(s mqttclient.State) { metrics.SetConnected(s == mqttclient.StateConnected) })

	router := telemetry.NewRouter(cfg.MQTT.TopicRoot)
	pipeline := telemetry.NewPipeline(router, identities, writer, logger,
		telemetry.WithStatusStore(statuses),
		telemetry.WithDeduper(dedup.New(cfg.Ingest.DedupTTL, cfg.Ingest.DedupMax)),
		telemetry.WithMetrics(metrics),
	)
	dispatcher := telemetry.NewDispatcher(router, conn, metrics, logger)
	provisioner := registry.NewProvisioner(identities, queries, statuses, router.DeviceTopic, logger)

	// --- HTTP ---
	api := &telemetry.API{
		Identities:  identities,
		Queries:     queries,
		Commands:    dispatcher,
		Status:      statuses,
		Provisioner: provisioner,
		Router:      router,
		Broker: telemetry.BrokerEndpoint{
			Host:      cfg.MQTT.PublicHost,
			Port:      cfg.MQTT.Port,
			WSPort:    cfg.MQTT.WSPort,
			KeepAlive: cfg.MQTT.KeepAlive,
		},
		Metrics: metrics,
		Logger:  logger,
	}
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)
	mux.Handle("GET /healthz", telemetry.NewHealthHandler(conn, writer, 30*time.Second))
	mux.Handle("GET /readyz", telemetry.NewReadyHandler(conn, writer, 30*time.Second))
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("telemetry HTTP listening", "port", cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	// --- gRPC ---
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	gs := grpc.NewServer()
	telemetry.RegisterCommandServiceServer(gs, telemetry.NewCommandServer(identities, dispatcher, logger))
	go func() {
		logger.Info("telemetry gRPC listening", "port", cfg.GRPC.Port)
		if err := gs.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	// Avvia il consumo MQTT: blocca fino al segnale
	svcErr := telemetry.NewService(conn, router, pipeline, logger).Run(ctx)

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shCtx)
	gs.GracefulStop()
	return svcErr
}
