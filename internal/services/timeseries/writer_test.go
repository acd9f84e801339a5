package timeseries

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

func TestWriter_WritesTaggedPoint(t *testing.T) {
	f, client := newFakeInflux(t)
	w := NewWriter(client.WriteAPIBlocking("orto", "sensor_data"), "sensor_data")

	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.WriteReading(context.Background(), model.NormalizedReading{
		DeviceID: "d1", OwnerID: "u1", Value: 23.5, Timestamp: ts,
	}))

	writes, _, _ := f.snapshot()
	require.Len(t, writes, 1)
	line := writes[0]
	assert.Contains(t, line, "sensor_data,")
	assert.Contains(t, line, "application=smart-garden")
	assert.Contains(t, line, "sensor_id=d1")
	assert.Contains(t, line, "user_id=u1")
	assert.Contains(t, line, " value=23.5 ")
	assert.Contains(t, line, "1714557600000000000")
	assert.Greater(t, w.LastErrorAge(), time.Hour)
}

func TestWriter_FailureIsReturnedAndTracked(t *testing.T) {
	f, client := newFakeInflux(t)
	f.writeStatus = http.StatusInternalServerError
	w := NewWriter(client.WriteAPIBlocking("orto", "sensor_data"), "sensor_data")

	err := w.WriteReading(context.Background(), model.NormalizedReading{DeviceID: "d1", OwnerID: "u1", Value: 1, Timestamp: time.Now()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "u1/d1")
	assert.Less(t, w.LastErrorAge(), time.Minute)

	writes, _, _ := f.snapshot()
	assert.Len(t, writes, 1, "no retry")
}

func TestReadingToPoint(t *testing.T) {
	p := ReadingToPoint("sensor_data", model.NormalizedReading{DeviceID: "d1", OwnerID: "u1", Value: 2, Timestamp: time.Unix(10, 0)})
	assert.Equal(t, "sensor_data", p.Name())
	tags := map[string]string{}
	for _, tg := range p.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, map[string]string{"application": "smart-garden", "sensor_id": "d1", "user_id": "u1"}, tags)
	require.Len(t, p.FieldList(), 1)
	assert.Equal(t, "value", p.FieldList()[0].Key)
	assert.Equal(t, 2.0, p.FieldList()[0].Value)
}

func TestLastErrorAge_NilWriter(t *testing.T) {
	var w *Writer
	assert.Greater(t, w.LastErrorAge(), time.Hour)
}
