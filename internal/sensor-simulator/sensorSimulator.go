package sensor_simulator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

const (
	publishQoS  = 1
	minInterval = time.Second

	stateRunning = "running"
)

// SensorSimulator si comporta come un device provisionato: pubblica letture
// col proprio token ed esegue i comandi ricevuti sul topic di comando.
type SensorSimulator struct {
	mu         sync.Mutex
	info       model.ConnectionInfo
	generator  *DataGenerator
	data       mqttclient.IPublisher
	status     mqttclient.IPublisher
	consumer   mqttclient.IConsumer
	deduper    *dedup.Deduper
	logger     *slog.Logger
	initial    time.Duration
	interval   time.Duration
	intervalCh chan time.Duration
	lastValue  float64
	now        func() time.Time
}

func NewSensorSimulator(conn mqttclient.Conn, consumer mqttclient.IConsumer, info model.ConnectionInfo,
	gen *DataGenerator, interval time.Duration, logger *slog.Logger) *SensorSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval < minInterval {
		interval = minInterval
	}
	return &SensorSimulator{
		info:       info,
		generator:  gen,
		data:       mqttclient.NewPublisher(conn, info.DataTopicPublish, publishQoS),
		status:     mqttclient.NewPublisher(conn, info.StatusTopicPublish, publishQoS),
		consumer:   consumer,
		deduper:    dedup.New(2*time.Minute, 10000), // TTL e cap
		logger:     logger.With("component", "simulator", "topic", info.DataTopicPublish),
		initial:    interval,
		interval:   interval,
		intervalCh: make(chan time.Duration, 1),
		now:        time.Now,
	}
}

// Start avvia la ricezione dei comandi e la pubblicazione a intervalli regolari.
func (s *SensorSimulator) Start(ctx context.Context) {
	s.consumer.SetHandler(s.HandleCommand)
	go s.consumer.ConsumeMessage(ctx)

	timer := time.NewTimer(s.currentInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.intervalCh:
			timer.Reset(d)
		case <-timer.C:
			if err := s.PublishReading(ctx); err != nil {
				s.logger.Warn("publish error", "err", err)
			}
			timer.Reset(s.currentInterval())
		}
	}
}

func (s *SensorSimulator) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// PublishReading genera e pubblica una lettura sul topic dati.
func (s *SensorSimulator) PublishReading(ctx context.Context) error {
	value := s.generator.Next()
	ts := float64(s.now().UnixMilli()) / 1000

	s.mu.Lock()
	s.lastValue = value
	s.mu.Unlock()

	s.logger.Debug("pub reading", "value", value)
	return s.data.PublishMessage(ctx, model.SensorData{
		Value:     value,
		Token:     s.info.Token,
		Timestamp: &ts,
	})
}

func (s *SensorSimulator) publishStatus(ctx context.Context) error {
	offset, multiplier := s.generator.Calibration()
	s.mu.Lock()
	st := model.DeviceStatus{
		Token:       s.info.Token,
		State:       stateRunning,
		IntervalSec: int(s.interval / time.Second),
		Offset:      offset,
		Multiplier:  multiplier,
		LastValue:   s.lastValue,
		Timestamp:   s.now().Unix(),
	}
	s.mu.Unlock()
	return s.status.PublishMessage(ctx, st)
}

// HandleCommand esegue un comando. Le riconsegne QoS 1 hanno lo stesso payload e vengono scartate.
func (s *SensorSimulator) HandleCommand(ctx context.Context, msg mqttclient.Message) error {
	h := sha256.Sum256(msg.Payload)
	if !s.deduper.ShouldProcess(hex.EncodeToString(h[:])) {
		return nil // duplicato → ignora
	}

	var cmd model.DeviceCommand
	if err := json.Unmarshal(msg.Payload, &cmd); err != nil {
		return fmt.Errorf("invalid command: %w", err)
	}
	s.logger.Info("command received", "command", cmd.Command, "parameters", cmd.Parameters)

	switch cmd.Command {
	case model.CommandPing:
	case model.CommandCalibrate:
		offset, _ := floatParam(cmd.Parameters, "offset")
		multiplier, ok := floatParam(cmd.Parameters, "multiplier")
		if !ok {
			multiplier = defaultMultiplier
		}
		s.generator.Calibrate(offset, multiplier)
	case model.CommandSetInterval:
		secs, ok := floatParam(cmd.Parameters, "interval", "seconds")
		d := time.Duration(secs * float64(time.Second))
		if !ok || d < minInterval {
			return fmt.Errorf("set_interval: invalid interval %v", cmd.Parameters)
		}
		s.setInterval(d)
	case model.CommandReset:
		s.generator.Reset()
		s.setInterval(s.initial)
	default:
		return fmt.Errorf("unknown command %q", cmd.Command)
	}
	return s.publishStatus(ctx)
}

func (s *SensorSimulator) setInterval(d time.Duration) {
	s.mu.Lock()
	s.interval = d
	s.mu.Unlock()
	// vince l'ultimo valore
	select {
	case <-s.intervalCh:
	default:
	}
	s.intervalCh <- d
}

func floatParam(params map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if f, ok := params[k].(float64); ok {
			return f, true
		}
	}
	return 0, false
}
