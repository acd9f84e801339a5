package messages

// SensorData is the payload a device publishes on <root>/<owner>/<device>/data.
// Timestamp is unix seconds; when nil the server uses the arrival time.
type SensorData struct {
	Value     float64  `json:"value"`
	Token     string   `json:"token"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}
