package entities

import "time"

// SensorIdentity is the registry record of a provisioned device.
// ConnectionToken is the only credential accepted on the ingestion path.
type SensorIdentity struct {
	DeviceID           string     `json:"sensorId"`
	OwnerID            string     `json:"userId"`
	InstallationTopic  string     `json:"installationTopic"`
	ConnectionToken    string     `json:"-"`
	LastDataReceivedAt *time.Time `json:"lastDataReceivedAt,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
}
