package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

var ErrNotConnected = errors.New("mqtt: not connected")

// State of the broker session owned by a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Config struct {
	Host           string
	Port           int
	User           string
	Password       string
	ClientID       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	RetryDelay     time.Duration // fixed delay between connection attempts
	PublishTimeout time.Duration
}

func (c Config) BrokerURL() string {
	return fmt.Sprintf("tcp://%s:%d", c.Host, c.Port)
}

// Message is an inbound publish handed to the consumer side.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Duplicate bool
}

type Subscription struct {
	Topic string
	QoS   byte
}

// ClientFactory builds the paho client for one connection attempt.
type ClientFactory func(opts *mqtt.ClientOptions) mqtt.Client

// Manager owns the single broker connection. Run drives the state machine
// from one goroutine: connect with a fixed retry delay, (re)subscribe on
// every connected transition, wait for loss, reconnect.
// Inbound messages are delivered on an unbuffered channel in arrival order.
// A slow consumer blocks paho's inbound router, and a handler stuck for longer
// than KeepAlive can make the broker drop the session. Consumers must bound
// their per-message work, e.g. with store timeouts shorter than KeepAlive.
type Manager struct {
	cfg       Config
	logger    *slog.Logger
	newClient ClientFactory

	state   atomic.Int32
	onState func(State)

	mu     sync.RWMutex
	client mqtt.Client
	subs   []Subscription
	runCtx context.Context

	msgs chan Message
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:       cfg,
		logger:    logger.With("component", "mqtt"),
		newClient: mqtt.NewClient,
		msgs:      make(chan Message),
	}
}

// SetClientFactory replaces mqtt.NewClient. Must be called before Run.
func (m *Manager) SetClientFactory(f ClientFactory) {
	m.newClient = f
}

// OnStateChange registers a hook called on every transition. Must be called before Run.
func (m *Manager) OnStateChange(f func(State)) {
	m.onState = f
}

func (m *Manager) Messages() <-chan Message { return m.msgs }

func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Subscribe registers a filter that is (re)issued on every connection.
// If a session is already up the filter is subscribed immediately.
func (m *Manager) Subscribe(topic string, qos byte) {
	m.mu.Lock()
	m.subs = append(m.subs, Subscription{Topic: topic, QoS: qos})
	client, ctx := m.client, m.runCtx
	m.mu.Unlock()

	if client != nil && ctx != nil && m.IsConnected() {
		m.subscribe(ctx, client, Subscription{Topic: topic, QoS: qos})
	}
}

// Run blocks until ctx is cancelled. Connection errors are logged and retried,
// never returned.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()

	m.setState(StateConnecting)
	for {
		client, lost, err := m.connect(ctx)
		if err != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.mu.Lock()
		m.client = client
		subs := append([]Subscription(nil), m.subs...)
		m.mu.Unlock()

		m.setState(StateConnected)
		m.logger.Info("connected", "broker", m.cfg.BrokerURL(), "client_id", m.cfg.ClientID)
		for _, s := range subs {
			m.subscribe(ctx, client, s)
		}

		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
			m.setState(StateDisconnected)
			client.Disconnect(250)
			m.logger.Info("connection closed")
			return nil
		case cause := <-lost:
			m.mu.Lock()
			m.client = nil
			m.mu.Unlock()
			m.setState(StateReconnecting)
			m.logger.Warn("connection lost, reconnecting", "err", cause, "retry_delay", m.cfg.RetryDelay)
		}
	}
}

// connect retries on a constant delay until a session is established or ctx ends.
func (m *Manager) connect(ctx context.Context) (mqtt.Client, <-chan error, error) {
	var (
		client mqtt.Client
		lost   chan error
	)
	op := func() error {
		lost = make(chan error, 1)
		client = m.newClient(m.options(ctx, lost))
		tok := client.Connect()
		if err := waitToken(ctx, tok, m.cfg.ConnectTimeout); err != nil {
			m.logger.Error("connect failed", "broker", m.cfg.BrokerURL(), "err", err)
			return err
		}
		return nil
	}
	bo := backoff.WithContext(backoff.NewConstantBackOff(m.cfg.RetryDelay), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, nil, err
	}
	return client, lost, nil
}

func (m *Manager) options(ctx context.Context, lost chan error) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(m.cfg.BrokerURL())
	opts.SetClientID(m.cfg.ClientID)
	opts.SetUsername(m.cfg.User)
	opts.SetPassword(m.cfg.Password)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(m.cfg.KeepAlive)
	opts.SetConnectTimeout(m.cfg.ConnectTimeout)
	// reconnect is driven by Run
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		select {
		case lost <- err:
		default:
		}
	})
	opts.SetDefaultPublishHandler(m.deliver(ctx))
	return opts
}

func (m *Manager) subscribe(ctx context.Context, client mqtt.Client, s Subscription) {
	tok := client.Subscribe(s.Topic, s.QoS, m.deliver(ctx))
	if err := waitToken(ctx, tok, m.cfg.ConnectTimeout); err != nil {
		m.logger.Error("subscribe failed", "topic", s.Topic, "err", err)
		return
	}
	m.logger.Info("subscribed", "topic", s.Topic, "qos", s.QoS)
}

// deliver blocks the paho router until the consumer takes the message.
func (m *Manager) deliver(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		out := Message{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Duplicate: msg.Duplicate(),
		}
		select {
		case m.msgs <- out:
		case <-ctx.Done():
		}
	}
}

// Publish sends payload and waits for the broker acknowledgment (QoS>0).
// It fails fast with ErrNotConnected while no session is up.
func (m *Manager) Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil || !m.IsConnected() {
		return ErrNotConnected
	}
	tok := client.Publish(topic, qos, retained, payload)
	if err := waitToken(ctx, tok, m.cfg.PublishTimeout); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	if m.onState != nil {
		m.onState(s)
	}
}

func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("timeout after %s", timeout)
	}
}
