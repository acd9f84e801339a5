package timeseries

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

var ErrStoreUnavailable = errors.New("time-series store unavailable")

type QueryConfig struct {
	Org             string
	Bucket          string
	Measurement     string
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
}

// QueryEngine esegue le query sulle serie dei sensori.
// Le chiamate allo store passano da un circuit breaker.
type QueryEngine struct {
	query  api.QueryAPI
	delete api.DeleteAPI
	cfg    QueryConfig
	cb     *gobreaker.CircuitBreaker
	now    func() time.Time
	logger *slog.Logger
}

func NewQueryEngine(q api.QueryAPI, d api.DeleteAPI, cfg QueryConfig, logger *slog.Logger) *QueryEngine {
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "timeseries")
	return &QueryEngine{
		query:  q,
		delete: d,
		cfg:    cfg,
		cb:     newBreaker("influx", cfg.BreakerFailures, cfg.BreakerOpenFor, logger),
		now:    time.Now,
		logger: logger,
	}
}

func newBreaker(name string, fails uint32, openFor time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: openFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= fails
		},
		// una richiesta annullata dal chiamante non è un guasto dello store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

func (e *QueryEngine) guard(fn func() ([]model.DataPoint, error)) ([]model.DataPoint, error) {
	out, err := e.cb.Execute(func() (interface{}, error) { return fn() })
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err != nil {
		return nil, err
	}
	points, _ := out.([]model.DataPoint)
	return points, nil
}

// Query ritorna i punti ordinati per tempo crescente.
func (e *QueryEngine) Query(ctx context.Context, q model.QuerySpec) ([]model.DataPoint, error) {
	flux, err := BuildRangeQuery(e.cfg.Bucket, e.cfg.Measurement, q)
	if err != nil {
		return nil, err
	}
	return e.guard(func() ([]model.DataPoint, error) {
		return e.collect(ctx, flux, q.DeviceID, q.OwnerID)
	})
}

// Latest ritorna il punto più recente dell'ultima ora, nil se non ce ne sono.
func (e *QueryEngine) Latest(ctx context.Context, deviceID, ownerID string) (*model.DataPoint, error) {
	flux, err := BuildLatestQuery(e.cfg.Bucket, e.cfg.Measurement, deviceID, ownerID)
	if err != nil {
		return nil, err
	}
	points, err := e.guard(func() ([]model.DataPoint, error) {
		return e.collect(ctx, flux, deviceID, ownerID)
	})
	if err != nil || len(points) == 0 {
		return nil, err
	}
	p := points[len(points)-1]
	return &p, nil
}

// DeleteDeviceData cancella l'intera serie del sensore (dal 1970 a ora).
func (e *QueryEngine) DeleteDeviceData(ctx context.Context, deviceID, ownerID string) error {
	if err := validateIDs(deviceID, ownerID); err != nil {
		return err
	}
	predicate := DeletePredicate(e.cfg.Measurement, deviceID, ownerID)
	start := time.Unix(0, 0).UTC()
	stop := e.now().UTC()
	_, err := e.guard(func() ([]model.DataPoint, error) {
		return nil, e.delete.DeleteWithName(ctx, e.cfg.Org, e.cfg.Bucket, start, stop, predicate)
	})
	if err != nil {
		return fmt.Errorf("delete series %s/%s: %w", ownerID, deviceID, err)
	}
	e.logger.Info("series deleted", "owner", ownerID, "device", deviceID, "predicate", predicate)
	return nil
}

// collect consuma il cursore una sola volta e materializza il risultato.
func (e *QueryEngine) collect(ctx context.Context, flux, deviceID, ownerID string) ([]model.DataPoint, error) {
	res, err := e.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	out := make([]model.DataPoint, 0, 64)
	for res.Next() {
		rec := res.Record()
		v, ok := toFloat(rec.Value())
		if !ok {
			continue
		}
		out = append(out, model.DataPoint{
			Time:     rec.Time().UTC(),
			Value:    v,
			DeviceID: deviceID,
			OwnerID:  ownerID,
		})
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("influx iterate: %w", err)
	}
	// più tabelle nello stesso risultato non sono ordinate tra loro
	slices.SortStableFunc(out, func(a, b model.DataPoint) int { return a.Time.Compare(b.Time) })
	return out, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
