package model

import (
	"encoding/json"
	"time"
)

// NormalizedReading is a validated data message ready for the time-series store.
type NormalizedReading struct {
	DeviceID  string
	OwnerID   string
	Value     float64
	Timestamp time.Time
}

// QuerySpec describes a range query over one device series.
// RangeStart is an RFC3339 time or a relative duration such as "-1h".
// Empty RangeStop means now; empty AggregateWindow means raw points.
type QuerySpec struct {
	DeviceID        string
	OwnerID         string
	RangeStart      string
	RangeStop       string
	AggregateWindow string
}

// DataPoint is a query result row. On the wire time is integer unix seconds.
type DataPoint struct {
	Time     time.Time
	Value    float64
	DeviceID string
	OwnerID  string
}

type dataPointJSON struct {
	Time     int64   `json:"time"`
	Value    float64 `json:"value"`
	SensorID string  `json:"sensorId"`
	UserID   string  `json:"userId"`
}

func (p DataPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(dataPointJSON{
		Time:     p.Time.Unix(),
		Value:    p.Value,
		SensorID: p.DeviceID,
		UserID:   p.OwnerID,
	})
}

func (p *DataPoint) UnmarshalJSON(b []byte) error {
	var w dataPointJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*p = DataPoint{Time: time.Unix(w.Time, 0).UTC(), Value: w.Value, DeviceID: w.SensorID, OwnerID: w.UserID}
	return nil
}
