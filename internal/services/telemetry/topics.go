package telemetry

import (
	"errors"
	"fmt"
	"strings"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

var ErrInvalidTopic = errors.New("invalid topic")

// Router mappa (owner, device) sui topic <root>/<owner>/<device>/<kind> e viceversa.
type Router struct {
	root string
}

func NewRouter(root string) Router {
	return Router{root: root}
}

func (r Router) Root() string { return r.root }

func (r Router) DeviceTopic(ownerID, deviceID string) string {
	return r.root + "/" + ownerID + "/" + deviceID
}

func (r Router) topic(ownerID, deviceID string, kind model.Kind) string {
	return r.DeviceTopic(ownerID, deviceID) + "/" + string(kind)
}

func (r Router) DataTopic(ownerID, deviceID string) string {
	return r.topic(ownerID, deviceID, model.KindData)
}

func (r Router) StatusTopic(ownerID, deviceID string) string {
	return r.topic(ownerID, deviceID, model.KindStatus)
}

func (r Router) CommandTopic(ownerID, deviceID string) string {
	return r.topic(ownerID, deviceID, model.KindCommand)
}

// SubscriptionPatterns sono i filtri da (ri)sottoscrivere a ogni connessione.
func (r Router) SubscriptionPatterns() []string {
	return []string{
		r.root + "/+/+/" + string(model.KindData),
		r.root + "/+/+/" + string(model.KindStatus),
	}
}

// ParseTopic accetta solo topic con esattamente quattro segmenti e la root configurata.
func (r Router) ParseTopic(topic string) (model.Route, error) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 {
		return model.Route{}, fmt.Errorf("%w: %q has %d segments", ErrInvalidTopic, topic, len(parts))
	}
	if parts[0] != r.root {
		return model.Route{}, fmt.Errorf("%w: %q outside root %q", ErrInvalidTopic, topic, r.root)
	}
	if parts[1] == "" || parts[2] == "" {
		return model.Route{}, fmt.Errorf("%w: %q has an empty owner or device", ErrInvalidTopic, topic)
	}
	kind := model.Kind(parts[3])
	if !kind.Valid() {
		return model.Route{}, fmt.Errorf("%w: %q unknown kind %q", ErrInvalidTopic, topic, parts[3])
	}
	return model.Route{OwnerID: parts[1], DeviceID: parts[2], Kind: kind}, nil
}
