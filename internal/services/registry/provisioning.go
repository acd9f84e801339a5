package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

var ErrInvalidID = errors.New("invalid identifier")

const maxIDLength = 64

type IdentityStore interface {
	FindByDeviceIDAndOwner(ctx context.Context, deviceID, ownerID string) (*model.SensorIdentity, error)
	Create(ctx context.Context, s model.SensorIdentity) error
	Delete(ctx context.Context, deviceID, ownerID string) error
}

type SeriesDeleter interface {
	DeleteDeviceData(ctx context.Context, deviceID, ownerID string) error
}

type StatusDeleter interface {
	Delete(ctx context.Context, ownerID, deviceID string) error
}

// Provisioner gestisce registrazione e cancellazione dei sensori:
// alla registrazione conia il token, alla cancellazione elimina anche la serie storica.
type Provisioner struct {
	store       IdentityStore
	series      SeriesDeleter
	status      StatusDeleter
	deviceTopic func(ownerID, deviceID string) string
	newToken    func() string
	now         func() time.Time
	logger      *slog.Logger
}

func NewProvisioner(store IdentityStore, series SeriesDeleter, status StatusDeleter,
	deviceTopic func(ownerID, deviceID string) string, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provisioner{
		store:       store,
		series:      series,
		status:      status,
		deviceTopic: deviceTopic,
		newToken:    func() string { return uuid.NewString() },
		now:         time.Now,
		logger:      logger.With("component", "provisioner"),
	}
}

// ValidateID accetta identificativi utilizzabili come singolo livello di topic MQTT.
// ':' è escluso perché separa owner e device nelle chiavi Redis.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case len(id) > maxIDLength:
		return fmt.Errorf("%w: longer than %d", ErrInvalidID, maxIDLength)
	case strings.ContainsAny(id, "/+#\x00"):
		return fmt.Errorf("%w: %q contains a topic separator or wildcard", ErrInvalidID, id)
	case strings.Contains(id, ":"):
		return fmt.Errorf("%w: %q contains the key separator ':'", ErrInvalidID, id)
	}
	return nil
}

func (p *Provisioner) Register(ctx context.Context, ownerID, deviceID string) (*model.SensorIdentity, error) {
	if err := ValidateID(ownerID); err != nil {
		return nil, err
	}
	if err := ValidateID(deviceID); err != nil {
		return nil, err
	}
	s := model.SensorIdentity{
		DeviceID:          deviceID,
		OwnerID:           ownerID,
		InstallationTopic: p.deviceTopic(ownerID, deviceID),
		ConnectionToken:   p.newToken(),
		CreatedAt:         p.now().UTC(),
	}
	if err := p.store.Create(ctx, s); err != nil {
		return nil, err
	}
	p.logger.Info("sensor registered", "owner", ownerID, "device", deviceID)
	return &s, nil
}

// Deregister elimina prima i dati della serie: se fallisce il record resta e
// l'operazione può essere ripetuta.
func (p *Provisioner) Deregister(ctx context.Context, ownerID, deviceID string) error {
	if _, err := p.store.FindByDeviceIDAndOwner(ctx, deviceID, ownerID); err != nil {
		return err
	}
	if err := p.series.DeleteDeviceData(ctx, deviceID, ownerID); err != nil {
		return fmt.Errorf("delete series of %s/%s: %w", ownerID, deviceID, err)
	}
	if p.status != nil {
		if err := p.status.Delete(ctx, ownerID, deviceID); err != nil {
			p.logger.Warn("status cleanup failed", "owner", ownerID, "device", deviceID, "err", err)
		}
	}
	if err := p.store.Delete(ctx, deviceID, ownerID); err != nil {
		return err
	}
	p.logger.Info("sensor deregistered", "owner", ownerID, "device", deviceID)
	return nil
}
