package telemetry

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/pkg/dedup"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

var ErrInvalidPayload = errors.New("invalid payload")

// maxUnixSeconds: 9999-12-31T23:59:59Z
const maxUnixSeconds = 253402300799

type Registry interface {
	FindByDeviceIDAndOwner(ctx context.Context, deviceID, ownerID string) (*model.SensorIdentity, error)
	TouchLastReceived(ctx context.Context, deviceID, ownerID string, at time.Time) error
}

type ReadingWriter interface {
	WriteReading(ctx context.Context, r model.NormalizedReading) error
}

type StatusSaver interface {
	Save(ctx context.Context, ownerID, deviceID string, status map[string]any, at time.Time) error
}

// Pipeline valida e normalizza un messaggio alla volta.
// Nessun errore risale al trasporto: ogni esito viene loggato e contato.
type Pipeline struct {
	router   Router
	registry Registry
	writer   ReadingWriter
	status   StatusSaver
	deduper  *dedup.Deduper
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type PipelineOption func(*Pipeline)

// WithStatusStore: senza store lo stato viene solo loggato.
func WithStatusStore(s StatusSaver) PipelineOption { return func(p *Pipeline) { p.status = s } }

// WithDeduper scarta le riconsegne QoS 1 di letture con timestamp esplicito.
func WithDeduper(d *dedup.Deduper) PipelineOption { return func(p *Pipeline) { p.deduper = d } }

func WithMetrics(m *Metrics) PipelineOption { return func(p *Pipeline) { p.metrics = m } }

func WithClock(now func() time.Time) PipelineOption { return func(p *Pipeline) { p.now = now } }

func NewPipeline(router Router, reg Registry, writer ReadingWriter, logger *slog.Logger, opts ...PipelineOption) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pipeline{
		router:   router,
		registry: reg,
		writer:   writer,
		logger:   logger.With("component", "ingest"),
		now:      time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// HandleMQTT adatta Handle al consumer MQTT.
func (p *Pipeline) HandleMQTT(ctx context.Context, msg mqttclient.Message) error {
	p.Handle(ctx, model.RawMessage{Topic: msg.Topic, Payload: msg.Payload})
	return nil
}

// Handle processa un messaggio e ne ritorna l'esito. Non va mai in panic.
func (p *Pipeline) Handle(ctx context.Context, msg model.RawMessage) (outcome string) {
	kind := "unknown"
	defer func() {
		if r := recover(); r != nil {
			outcome = OutcomePanic
			p.logger.Error("panic handling message", "topic", msg.Topic, "panic", r)
		}
		p.metrics.message(kind, outcome)
	}()

	route, err := p.router.ParseTopic(msg.Topic)
	if err != nil {
		// traffico estraneo: atteso, non è un problema
		p.logger.Debug("topic rejected", "topic", msg.Topic, "err", err)
		return OutcomeIgnored
	}
	kind = string(route.Kind)

	switch route.Kind {
	case model.KindData:
		outcome, err = p.handleData(ctx, route, msg.Payload)
	case model.KindStatus:
		outcome, err = p.handleStatus(ctx, route, msg.Payload)
	default:
		outcome, err = OutcomeIgnored, nil
	}
	p.report(route, outcome, err)
	return outcome
}

func (p *Pipeline) report(r model.Route, outcome string, err error) {
	attrs := []any{"owner", r.OwnerID, "device", r.DeviceID, "kind", string(r.Kind), "outcome", outcome}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	switch outcome {
	case OutcomeMalformed, OutcomeUnauthorized:
		p.logger.Warn("message dropped", attrs...)
	case OutcomeStoreError:
		p.logger.Error("message lost", attrs...)
	default:
		p.logger.Debug("message handled", attrs...)
	}
}

type dataPayload struct {
	Value     json.RawMessage `json:"value"`
	Token     json.RawMessage `json:"token"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func (p *Pipeline) handleData(ctx context.Context, r model.Route, payload []byte) (string, error) {
	arrival := p.now()

	var in dataPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return OutcomeMalformed, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	token, ok := decodeToken(in.Token)
	if !ok {
		return OutcomeUnauthorized, fmt.Errorf("%w: missing or malformed token", ErrUnauthorized)
	}
	value, ok := decodeNumber(in.Value)
	if !ok {
		return OutcomeMalformed, fmt.Errorf("%w: value is not a number", ErrInvalidPayload)
	}
	ts, explicit, err := decodeTimestamp(in.Timestamp, arrival)
	if err != nil {
		return OutcomeMalformed, err
	}

	if outcome, err := p.authenticate(ctx, r, token); err != nil {
		return outcome, err
	}

	// chiave sul payload intero: letture diverse con lo stesso timestamp passano entrambe
	var dedupKey string
	if explicit && p.deduper != nil {
		sum := sha256.Sum256(payload)
		dedupKey = dedup.Key(r.OwnerID, r.DeviceID, hex.EncodeToString(sum[:]))
		if !p.deduper.ShouldProcess(dedupKey) {
			return OutcomeDuplicate, nil
		}
	}

	reading := model.NormalizedReading{
		DeviceID:  r.DeviceID,
		OwnerID:   r.OwnerID,
		Value:     value,
		Timestamp: ts,
	}
	start := time.Now()
	err = p.writer.WriteReading(ctx, reading)
	p.metrics.observeWrite(time.Since(start).Seconds())
	if err != nil {
		// non persistita: una riconsegna può ancora essere accettata
		p.deduper.Forget(dedupKey)
		return OutcomeStoreError, err
	}

	if err := p.registry.TouchLastReceived(ctx, r.DeviceID, r.OwnerID, arrival); err != nil {
		p.logger.Warn("last-received update failed", "owner", r.OwnerID, "device", r.DeviceID, "err", err)
	}
	return OutcomeAccepted, nil
}

func (p *Pipeline) handleStatus(ctx context.Context, r model.Route, payload []byte) (string, error) {
	arrival := p.now()

	var st map[string]any
	if err := json.Unmarshal(payload, &st); err != nil || st == nil {
		return OutcomeMalformed, fmt.Errorf("%w: status is not a JSON object", ErrInvalidPayload)
	}
	token, _ := st["token"].(string)
	if !tokenSyntaxValid(token) {
		return OutcomeUnauthorized, fmt.Errorf("%w: missing or malformed token", ErrUnauthorized)
	}
	if outcome, err := p.authenticate(ctx, r, token); err != nil {
		return outcome, err
	}
	delete(st, "token")

	if p.status == nil {
		p.logger.Info("status received", "owner", r.OwnerID, "device", r.DeviceID, "status", st)
		return OutcomeAccepted, nil
	}
	if err := p.status.Save(ctx, r.OwnerID, r.DeviceID, st, arrival); err != nil {
		return OutcomeStoreError, err
	}
	return OutcomeAccepted, nil
}

// authenticate consulta sempre il registry: non c'è cache dei token.
func (p *Pipeline) authenticate(ctx context.Context, r model.Route, token string) (string, error) {
	ident, err := p.registry.FindByDeviceIDAndOwner(ctx, r.DeviceID, r.OwnerID)
	if errors.Is(err, registry.ErrNotFound) {
		return OutcomeUnauthorized, fmt.Errorf("%w: unknown device", ErrUnauthorized)
	}
	if err != nil {
		return OutcomeStoreError, err
	}
	if !tokenMatches(token, ident.ConnectionToken) {
		return OutcomeUnauthorized, fmt.Errorf("%w: token mismatch", ErrUnauthorized)
	}
	return "", nil
}

func decodeToken(raw json.RawMessage) (string, bool) {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return "", false
	}
	return s, tokenSyntaxValid(s)
}

// decodeNumber accetta solo numeri JSON (non stringhe numeriche, non null).
func decodeNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// decodeTimestamp: secondi unix (anche frazionari). Assente o <= 0 vale l'arrivo.
func decodeTimestamp(raw json.RawMessage, arrival time.Time) (time.Time, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return arrival, false, nil
	}
	secs, ok := decodeNumber(trimmed)
	if !ok {
		return time.Time{}, false, fmt.Errorf("%w: timestamp is not a number", ErrInvalidPayload)
	}
	if secs <= 0 {
		return arrival, false, nil
	}
	if secs > maxUnixSeconds {
		return time.Time{}, false, fmt.Errorf("%w: timestamp %v out of range", ErrInvalidPayload, secs)
	}
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), true, nil
}
