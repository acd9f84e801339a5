package timeseries

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

const (
	tagApplication = "application"
	application    = "smart-garden"
)

// Writer scrive le letture in modo sincrono e traccia l'ultimo errore per /readyz.
// Nessun retry: una scrittura fallita è persa.
type Writer struct {
	api         api.WriteAPIBlocking
	measurement string
	now         func() time.Time

	mu      sync.RWMutex
	lastErr time.Time
}

func NewWriter(w api.WriteAPIBlocking, measurement string) *Writer {
	return &Writer{
		api:         w,
		measurement: measurement,
		now:         time.Now,
		lastErr:     time.Now().Add(-24 * time.Hour), // di default "lontano nel tempo"
	}
}

// ReadingToPoint normalizza una lettura in un *write.Point.
func ReadingToPoint(measurement string, r model.NormalizedReading) *write.Point {
	tags := map[string]string{
		tagApplication: application,
		tagSensorID:    r.DeviceID,
		tagUserID:      r.OwnerID,
	}
	fields := map[string]interface{}{
		fieldName: r.Value,
	}
	return influxdb2.NewPoint(measurement, tags, fields, r.Timestamp)
}

func (w *Writer) WriteReading(ctx context.Context, r model.NormalizedReading) error {
	if err := w.api.WritePoint(ctx, ReadingToPoint(w.measurement, r)); err != nil {
		w.mu.Lock()
		w.lastErr = w.now()
		w.mu.Unlock()
		return fmt.Errorf("write %s/%s: %w", r.OwnerID, r.DeviceID, err)
	}
	return nil
}

// LastErrorAge ritorna da quanto tempo non si verificano errori di scrittura.
func (w *Writer) LastErrorAge() time.Duration {
	if w == nil {
		return 99999 * time.Hour
	}
	w.mu.RLock()
	t := w.lastErr
	w.mu.RUnlock()
	return w.now().Sub(t)
}
