package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/registry"
	"github.com/LeonardoBeccarini/smartgarden/internal/services/timeseries"
	"github.com/LeonardoBeccarini/smartgarden/pkg/mqttclient"
)

// HeaderUserID porta l'identità del chiamante, già verificata dal gateway (JWT).
const HeaderUserID = "X-User-Id"

const defaultRangeStart = "-1h"

type IdentityLookup interface {
	FindByDeviceIDAndOwner(ctx context.Context, deviceID, ownerID string) (*model.SensorIdentity, error)
}

type QueryService interface {
	Query(ctx context.Context, q model.QuerySpec) ([]model.DataPoint, error)
	Latest(ctx context.Context, deviceID, ownerID string) (*model.DataPoint, error)
}

type CommandSender interface {
	Dispatch(ctx context.Context, ownerID, deviceID string, cmd model.Command) (string, error)
}

type StatusReader interface {
	Get(ctx context.Context, ownerID, deviceID string) (*registry.DeviceStatus, error)
}

type SensorProvisioner interface {
	Register(ctx context.Context, ownerID, deviceID string) (*model.SensorIdentity, error)
	Deregister(ctx context.Context, ownerID, deviceID string) error
}

// API espone query, comandi e provisioning. Ogni rotta su un sensore verifica
// prima che il chiamante ne sia il proprietario.
type API struct {
	Identities  IdentityLookup
	Queries     QueryService
	Commands    CommandSender
	Status      StatusReader
	Provisioner SensorProvisioner
	Router      Router
	Broker      BrokerEndpoint
	Metrics     *Metrics
	Logger      *slog.Logger
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sensors/{deviceId}/data", a.handleQuery)
	mux.HandleFunc("GET /sensors/{deviceId}/latest", a.handleLatest)
	mux.HandleFunc("POST /sensors/{deviceId}/commands", a.handleCommand)
	mux.HandleFunc("GET /sensors/{deviceId}/connection-info", a.handleConnectionInfo)
	mux.HandleFunc("GET /sensors/{deviceId}/status", a.handleStatus)
	mux.HandleFunc("POST /sensors", a.handleRegister)
	mux.HandleFunc("DELETE /sensors/{deviceId}", a.handleDeregister)
}

func (a *API) logger() *slog.Logger {
	if a.Logger == nil {
		return slog.Default()
	}
	return a.Logger
}

func caller(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderUserID))
}

// owned risolve il sensore del path per il chiamante; scrive già la risposta d'errore.
func (a *API) owned(w http.ResponseWriter, r *http.Request) (*model.SensorIdentity, bool) {
	user := caller(r)
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
		return nil, false
	}
	ident, err := a.Identities.FindByDeviceIDAndOwner(r.Context(), r.PathValue("deviceId"), user)
	if err != nil {
		a.writeError(w, err)
		return nil, false
	}
	return ident, true
}

func (a *API) handleQuery(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.owned(w, r)
	if !ok {
		return
	}
	qs := r.URL.Query()
	spec := model.QuerySpec{
		DeviceID:        ident.DeviceID,
		OwnerID:         ident.OwnerID,
		RangeStart:      firstNonEmpty(qs.Get("start"), defaultRangeStart),
		RangeStop:       qs.Get("stop"),
		AggregateWindow: firstNonEmpty(qs.Get("aggregateWindow"), qs.Get("window")),
	}
	points, err := a.Queries.Query(r.Context(), spec)
	a.Metrics.query("range", err)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.owned(w, r)
	if !ok {
		return
	}
	p, err := a.Queries.Latest(r.Context(), ident.DeviceID, ident.OwnerID)
	a.Metrics.query("latest", err)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.owned(w, r)
	if !ok {
		return
	}
	var cmd model.Command
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&cmd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid command body"})
		return
	}
	topic, err := a.Commands.Dispatch(r.Context(), ident.OwnerID, ident.DeviceID, cmd)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "published", "topic": topic})
}

func (a *API) handleConnectionInfo(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.owned(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.Router.ConnectionInfo(a.Broker, *ident))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.owned(w, r)
	if !ok {
		return
	}
	st, err := a.Status.Get(r.Context(), ident.OwnerID, ident.DeviceID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
		return
	}
	var body struct {
		DeviceID string `json:"deviceId"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 16<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body"})
		return
	}
	ident, err := a.Provisioner.Register(r.Context(), user, body.DeviceID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Sensor     *model.SensorIdentity `json:"sensor"`
		Connection model.ConnectionInfo  `json:"connection"`
	}{ident, a.Router.ConnectionInfo(a.Broker, *ident)})
}

func (a *API) handleDeregister(w http.ResponseWriter, r *http.Request) {
	user := caller(r)
	if user == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing caller identity"})
		return
	}
	if err := a.Provisioner.Deregister(r.Context(), user, r.PathValue("deviceId")); err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Error string `json:"error"`
}

// statusFor mappa la tassonomia degli errori sugli status HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, timeseries.ErrInvalidQuery),
		errors.Is(err, ErrInvalidCommand),
		errors.Is(err, registry.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, registry.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, ErrPublishFailed), errors.Is(err, mqttclient.ErrNotConnected):
		return http.StatusBadGateway
	case errors.Is(err, timeseries.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.logger().Error("request failed", "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
