package model

// Kind is the last segment of a device topic.
type Kind string

const (
	KindData    Kind = "data"
	KindStatus  Kind = "status"
	KindCommand Kind = "command"
)

func (k Kind) Valid() bool {
	switch k {
	case KindData, KindStatus, KindCommand:
		return true
	}
	return false
}

// Route is a parsed device topic.
type Route struct {
	OwnerID  string
	DeviceID string
	Kind     Kind
}

// RawMessage is one inbound transport message, alive for a single ingestion call.
type RawMessage struct {
	Topic   string
	Payload []byte
}
