package telemetry

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

const subscribeQoS = 1

// Connection è la parte del mqttclient.Manager usata dal servizio.
type Connection interface {
	Run(ctx context.Context) error
	Subscribe(topic string, qos byte)
	Messages() <-chan mqttclient.Message
}

// Service collega la connessione al broker alla pipeline: un'unica goroutine
// consuma i messaggi, uno alla volta, nell'ordine di arrivo.
type Service struct {
	conn     Connection
	consumer mqttclient.IConsumer
	logger   *slog.Logger
}

func NewService(conn Connection, router Router, pipeline *Pipeline, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	for _, pattern := range router.SubscriptionPatterns() {
		conn.Subscribe(pattern, subscribeQoS)
	}
	return &Service{
		conn:     conn,
		consumer: mqttclient.NewConsumer(conn.Messages(), pipeline.HandleMQTT, logger),
		logger:   logger.With("component", "telemetry"),
	}
}

// Run blocca fino alla cancellazione del contesto.
func (s *Service) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.conn.Run(ctx) })
	g.Go(func() error {
		s.consumer.ConsumeMessage(ctx)
		return nil
	})
	s.logger.Info("telemetry ingestion started")
	return g.Wait()
}
