package messages

// DeviceCommand is the payload published on <root>/<owner>/<device>/command.
type DeviceCommand struct {
	Command    string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	Timestamp  int64          `json:"timestamp"`
}
