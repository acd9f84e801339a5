package telemetry

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

type ConnState interface {
	State() mqttclient.State
}

type WriteHealth interface {
	LastErrorAge() time.Duration
}

type healthHandler struct {
	conn     ConnState
	writer   WriteHealth
	minError time.Duration
}

func NewHealthHandler(c ConnState, w WriteHealth, minOkErrorAge time.Duration) http.Handler {
	return &healthHandler{conn: c, writer: w, minError: minOkErrorAge}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	type status struct {
		Status          string  `json:"status"`
		MQTTConnected   bool    `json:"mqtt_connected"`
		MQTTState       string  `json:"mqtt_state"`
		LastWriteErrorS float64 `json:"last_write_error_age_sec"`
	}
	state := h.conn.State()
	age := h.writer.LastErrorAge()
	st := status{
		MQTTConnected:   state == mqttclient.StateConnected,
		MQTTState:       state.String(),
		LastWriteErrorS: age.Seconds(),
	}

	switch {
	case st.MQTTConnected && age > h.minError:
		st.Status = "ok"
	case st.MQTTConnected || age > h.minError:
		st.Status = "degraded"
	default:
		st.Status = "down"
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(st)
}

// Handler /readyz: 200 solo se il broker è connesso e non ci sono errori di scrittura recenti.
type readyHandler struct {
	conn     ConnState
	writer   WriteHealth
	minError time.Duration
}

func NewReadyHandler(c ConnState, w WriteHealth, minOkErrorAge time.Duration) http.Handler {
	return &readyHandler{conn: c, writer: w, minError: minOkErrorAge}
}

func (h *readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	ready := h.conn.State() == mqttclient.StateConnected && h.writer.LastErrorAge() > h.minError
	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	type resp struct {
		Ready bool `json:"ready"`
	}
	_ = json.NewEncoder(w).Encode(resp{Ready: ready})
}
