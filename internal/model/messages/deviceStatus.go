package messages

// DeviceStatus is what the simulator publishes on the status topic.
// The server accepts any JSON object carrying a valid token.
type DeviceStatus struct {
	Token       string  `json:"token"`
	State       string  `json:"state"`
	IntervalSec int     `json:"interval_sec"`
	Offset      float64 `json:"offset"`
	Multiplier  float64 `json:"multiplier"`
	LastValue   float64 `json:"last_value"`
	Timestamp   int64   `json:"timestamp"`
}
