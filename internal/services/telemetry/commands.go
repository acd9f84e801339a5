package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

var (
	ErrInvalidCommand = errors.New("invalid command")
	ErrPublishFailed  = errors.New("command publish failed")
)

const commandQoS = 1

// Dispatcher pubblica comandi verso i device. La conferma è solo quella del broker.
type Dispatcher struct {
	router  Router
	conn    mqttclient.Conn
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewDispatcher(router Router, conn mqttclient.Conn, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:  router,
		conn:    conn,
		metrics: metrics,
		logger:  logger.With("component", "commands"),
		now:     time.Now,
	}
}

// Dispatch ritorna il topic usato. Gli errori di pubblicazione risalgono al
// chiamante come ErrPublishFailed (che avvolge mqttclient.ErrNotConnected se offline).
func (d *Dispatcher) Dispatch(ctx context.Context, ownerID, deviceID string, cmd model.Command) (string, error) {
	cmd.Name = strings.TrimSpace(cmd.Name)
	if cmd.Name == "" {
		return "", fmt.Errorf("%w: command name is required", ErrInvalidCommand)
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = d.now()
	}
	payload, err := json.Marshal(cmd.Wire())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	topic := d.router.CommandTopic(ownerID, deviceID)
	if err := d.conn.Publish(ctx, topic, commandQoS, false, payload); err != nil {
		d.metrics.command(commandLabel(cmd.Name), "error")
		d.logger.Error("command publish failed", "topic", topic, "command", cmd.Name, "err", err)
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	d.metrics.command(commandLabel(cmd.Name), "published")
	d.logger.Info("command published", "topic", topic, "command", cmd.Name)
	return topic, nil
}

// commandLabel limita la cardinalità della metrica ai comandi noti.
func commandLabel(name string) string {
	switch name {
	case model.CommandCalibrate, model.CommandReset, model.CommandSetInterval, model.CommandPing:
		return name
	}
	return "other"
}
