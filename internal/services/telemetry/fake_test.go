package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

const testToken = "3f1c2a9e-5b7d-4c1e-9a2f-0d6b8e4f7a11"

// memStore is an in-memory time-series store: writer and query side.
type memStore struct {
	mu       sync.Mutex
	readings []model.NormalizedReading
	writeErr error
	panicOn  bool
	now      func() time.Time
}

func newMemStore() *memStore { return &memStore{now: time.Now} }

func (s *memStore) WriteReading(_ context.Context, r model.NormalizedReading) error {
	if s.panicOn {
		panic("driver bug")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	s.readings = append(s.readings, r)
	return nil
}

func (s *memStore) written() []model.NormalizedReading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.NormalizedReading(nil), s.readings...)
}

func (s *memStore) Query(_ context.Context, q model.QuerySpec) ([]model.DataPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DataPoint
	for _, r := range s.readings {
		if r.DeviceID == q.DeviceID && r.OwnerID == q.OwnerID {
			out = append(out, model.DataPoint{Time: r.Timestamp, Value: r.Value, DeviceID: r.DeviceID, OwnerID: r.OwnerID})
		}
	}
	return out, nil
}

func (s *memStore) Latest(ctx context.Context, deviceID, ownerID string) (*model.DataPoint, error) {
	points, _ := s.Query(ctx, model.QuerySpec{DeviceID: deviceID, OwnerID: ownerID})
	var latest *model.DataPoint
	cutoff := s.now().Add(-time.Hour)
	for i := range points {
		p := points[i]
		if p.Time.Before(cutoff) {
			continue
		}
		if latest == nil || !p.Time.Before(latest.Time) {
			latest = &p
		}
	}
	return latest, nil
}

type fakeRegistry struct {
	mu      sync.Mutex
	sensors map[string]model.SensorIdentity
	touched []time.Time
	findErr error
}

func newFakeRegistry(ids ...model.SensorIdentity) *fakeRegistry {
	r := &fakeRegistry{sensors: map[string]model.SensorIdentity{}}
	for _, id := range ids {
		r.sensors[id.OwnerID+"/"+id.DeviceID] = id
	}
	return r
}

func (r *fakeRegistry) FindByDeviceIDAndOwner(_ context.Context, deviceID, ownerID string) (*model.SensorIdentity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	s, ok := r.sensors[ownerID+"/"+deviceID]
	if !ok {
		return nil, registry.ErrNotFound
	}
	return &s, nil
}

func (r *fakeRegistry) TouchLastReceived(_ context.Context, deviceID, ownerID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sensors[ownerID+"/"+deviceID]
	if !ok {
		return registry.ErrNotFound
	}
	s.LastDataReceivedAt = &at
	r.sensors[ownerID+"/"+deviceID] = s
	r.touched = append(r.touched, at)
	return nil
}

func (r *fakeRegistry) touches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touched)
}

type fakeStatus struct {
	mu    sync.Mutex
	saved map[string]map[string]any
	err   error
}

func newFakeStatus() *fakeStatus { return &fakeStatus{saved: map[string]map[string]any{}} }

func (f *fakeStatus) Save(_ context.Context, ownerID, deviceID string, st map[string]any, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved[ownerID+"/"+deviceID] = st
	return nil
}

func (f *fakeStatus) Get(_ context.Context, ownerID, deviceID string) (*registry.DeviceStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.saved[ownerID+"/"+deviceID]
	if !ok {
		return nil, nil
	}
	return &registry.DeviceStatus{Status: st}, nil
}

type publish struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeConn is both the publish side and the subscribe side of the broker connection.
type fakeConn struct {
	mu        sync.Mutex
	published []publish
	subs      []string
	err       error
	msgs      chan mqttclient.Message
}

func newFakeConn() *fakeConn { return &fakeConn{msgs: make(chan mqttclient.Message)} }

func (c *fakeConn) Publish(_ context.Context, topic string, qos byte, _ bool, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, publish{topic: topic, qos: qos, payload: payload})
	return nil
}

func (c *fakeConn) publishes() []publish {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]publish(nil), c.published...)
}

func (c *fakeConn) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (c *fakeConn) Subscribe(topic string, _ byte) {
	c.mu.Lock()
	c.subs = append(c.subs, topic)
	c.mu.Unlock()
}

func (c *fakeConn) Messages() <-chan mqttclient.Message { return c.msgs }

func (c *fakeConn) State() mqttclient.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return mqttclient.StateReconnecting
	}
	return mqttclient.StateConnected
}

type fixedAge time.Duration

func (a fixedAge) LastErrorAge() time.Duration { return time.Duration(a) }

func sensorD1() model.SensorIdentity {
	return model.SensorIdentity{
		DeviceID:          "d1",
		OwnerID:           "u1",
		InstallationTopic: "root/u1/d1",
		ConnectionToken:   testToken,
	}
}
