package timeseries

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

var ErrInvalidQuery = errors.New("invalid query")

const (
	fieldName      = "value"
	tagSensorID    = "sensor_id"
	tagUserID      = "user_id"
	latestLookback = "-1h"
)

var (
	relativeDuration = regexp.MustCompile(`^-(\d+(ns|us|µs|ms|mo|s|m|h|d|w|y))+$`)
	windowDuration   = regexp.MustCompile(`^(\d+(ns|us|µs|ms|mo|s|m|h|d|w|y))+$`)
	nonZeroDigit     = regexp.MustCompile(`[1-9]`)
)

var fluxEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `${`, `\${`)

// fluxString rende s un letterale stringa Flux (niente interpolazione).
func fluxString(s string) string {
	return `"` + fluxEscaper.Replace(s) + `"`
}

// fluxStart accetta RFC3339 oppure una durata relativa negativa ("-1h", "-7d").
func fluxStart(s string) (string, *time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, fmt.Errorf("%w: start is required", ErrInvalidQuery)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339Nano), &t, nil
	}
	if relativeDuration.MatchString(s) && nonZeroDigit.MatchString(s) {
		return s, nil, nil
	}
	return "", nil, fmt.Errorf("%w: start %q is neither RFC3339 nor a relative duration", ErrInvalidQuery, s)
}

func fluxStop(s string) (string, *time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return "", nil, fmt.Errorf("%w: stop %q is not RFC3339", ErrInvalidQuery, s)
	}
	return t.UTC().Format(time.RFC3339Nano), &t, nil
}

func fluxWindow(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !windowDuration.MatchString(s) || !nonZeroDigit.MatchString(s) {
		return "", fmt.Errorf("%w: aggregate window %q is not a positive duration", ErrInvalidQuery, s)
	}
	return s, nil
}

func validateIDs(deviceID, ownerID string) error {
	if strings.TrimSpace(deviceID) == "" || strings.TrimSpace(ownerID) == "" {
		return fmt.Errorf("%w: device and owner are required", ErrInvalidQuery)
	}
	return nil
}

func seriesFilter(measurement, deviceID, ownerID string) string {
	return fmt.Sprintf(`
  |> filter(fn: (r) => r._measurement == %s)
  |> filter(fn: (r) => r.%s == %s)
  |> filter(fn: (r) => r.%s == %s)
  |> filter(fn: (r) => r._field == %s)`,
		fluxString(measurement),
		tagSensorID, fluxString(deviceID),
		tagUserID, fluxString(ownerID),
		fluxString(fieldName))
}

// BuildRangeQuery traduce una QuerySpec in Flux.
func BuildRangeQuery(bucket, measurement string, q model.QuerySpec) (string, error) {
	if err := validateIDs(q.DeviceID, q.OwnerID); err != nil {
		return "", err
	}
	start, startT, err := fluxStart(q.RangeStart)
	if err != nil {
		return "", err
	}
	rng := "start: " + start
	if strings.TrimSpace(q.RangeStop) != "" {
		stop, stopT, err := fluxStop(q.RangeStop)
		if err != nil {
			return "", err
		}
		if startT != nil && !startT.Before(*stopT) {
			return "", fmt.Errorf("%w: start must be before stop", ErrInvalidQuery)
		}
		rng += ", stop: " + stop
	}

	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n  |> range(%s)", fluxString(bucket), rng)
	b.WriteString(seriesFilter(measurement, q.DeviceID, q.OwnerID))
	if strings.TrimSpace(q.AggregateWindow) != "" {
		every, err := fluxWindow(q.AggregateWindow)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "\n  |> aggregateWindow(every: %s, fn: mean, createEmpty: false)", every)
	}
	b.WriteString("\n")
	return b.String(), nil
}

// BuildLatestQuery: ultima ora, solo il punto più recente.
func BuildLatestQuery(bucket, measurement, deviceID, ownerID string) (string, error) {
	if err := validateIDs(deviceID, ownerID); err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "from(bucket: %s)\n  |> range(start: %s)", fluxString(bucket), latestLookback)
	b.WriteString(seriesFilter(measurement, deviceID, ownerID))
	b.WriteString("\n  |> last()\n")
	return b.String(), nil
}

var predicateEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// DeletePredicate è il predicato per la delete API di InfluxDB.
func DeletePredicate(measurement, deviceID, ownerID string) string {
	q := func(s string) string { return `"` + predicateEscaper.Replace(s) + `"` }
	return fmt.Sprintf(`_measurement=%s AND %s=%s AND %s=%s`,
		q(measurement), tagSensorID, q(deviceID), tagUserID, q(ownerID))
}
