package model

import "time"

// Command names understood by the devices.
const (
	CommandCalibrate   = "calibrate"
	CommandReset       = "reset"
	CommandSetInterval = "set_interval"
	CommandPing        = "ping"
)

// Command is fire-and-forget: it is published once and never stored.
type Command struct {
	Name       string         `json:"command"`
	Parameters map[string]any `json:"parameters,omitempty"`
	IssuedAt   time.Time      `json:"-"`
}

// Wire renders the command payload sent to the device.
func (c Command) Wire() DeviceCommand {
	return DeviceCommand{
		Command:    c.Name,
		Parameters: c.Parameters,
		Timestamp:  c.IssuedAt.Unix(),
	}
}
