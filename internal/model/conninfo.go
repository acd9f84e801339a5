package model

// ConnectionInfo is the bundle a device needs to configure itself.
type ConnectionInfo struct {
	Host                  string `json:"host"`
	Port                  int    `json:"port"`
	WSPort                int    `json:"wsPort"`
	DataTopicPublish      string `json:"dataTopicPublish"`
	CommandTopicSubscribe string `json:"commandTopicSubscribe"`
	StatusTopicPublish    string `json:"statusTopicPublish"`
	Token                 string `json:"token"`
	KeepAlive             int    `json:"keepalive"`
	ClientIDPrefix        string `json:"clientIdPrefix"`
}
