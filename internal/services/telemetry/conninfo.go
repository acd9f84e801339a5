package telemetry

import (
	"time"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

type BrokerEndpoint struct {
	Host      string
	Port      int
	WSPort    int
	KeepAlive time.Duration
}

// ConnectionInfo è il bundle di provisioning per il device.
func (r Router) ConnectionInfo(b BrokerEndpoint, s model.SensorIdentity) model.ConnectionInfo {
	return model.ConnectionInfo{
		Host:                  b.Host,
		Port:                  b.Port,
		WSPort:                b.WSPort,
		DataTopicPublish:      r.DataTopic(s.OwnerID, s.DeviceID),
		CommandTopicSubscribe: r.CommandTopic(s.OwnerID, s.DeviceID),
		StatusTopicPublish:    r.StatusTopic(s.OwnerID, s.DeviceID),
		Token:                 s.ConnectionToken,
		KeepAlive:             int(b.KeepAlive / time.Second),
		ClientIDPrefix:        "sensor_" + s.DeviceID + "_",
	}
}
