package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/LeonardoBeccarini/smartgarden/internal/model"
)

var (
	ErrNotFound      = errors.New("sensor not found")
	ErrAlreadyExists = errors.New("sensor already registered")
)

// DB è il sottoinsieme di *pgxpool.Pool usato dal registry.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS sensor_identities (
	owner_id              TEXT        NOT NULL,
	device_id             TEXT        NOT NULL,
	installation_topic    TEXT        NOT NULL,
	connection_token      TEXT        NOT NULL UNIQUE,
	last_data_received_at TIMESTAMPTZ,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (owner_id, device_id)
)`

// Postgres è il Device Registry: identità e token dei sensori provisionati.
type Postgres struct {
	db DB
}

func NewPostgres(db DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate crea la tabella se non esiste.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate sensor_identities: %w", err)
	}
	return nil
}

func (p *Postgres) FindByDeviceIDAndOwner(ctx context.Context, deviceID, ownerID string) (*model.SensorIdentity, error) {
	const q = `
		SELECT device_id, owner_id, installation_topic, connection_token, last_data_received_at, created_at
		FROM sensor_identities
		WHERE device_id = $1 AND owner_id = $2`

	var s model.SensorIdentity
	err := p.db.QueryRow(ctx, q, deviceID, ownerID).Scan(
		&s.DeviceID, &s.OwnerID, &s.InstallationTopic, &s.ConnectionToken, &s.LastDataReceivedAt, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find sensor %s/%s: %w", ownerID, deviceID, err)
	}
	return &s, nil
}

// TouchLastReceived aggiorna last_data_received_at dopo una lettura accettata.
func (p *Postgres) TouchLastReceived(ctx context.Context, deviceID, ownerID string, at time.Time) error {
	const q = `UPDATE sensor_identities SET last_data_received_at = $3 WHERE device_id = $1 AND owner_id = $2`
	tag, err := p.db.Exec(ctx, q, deviceID, ownerID, at.UTC())
	if err != nil {
		return fmt.Errorf("touch sensor %s/%s: %w", ownerID, deviceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) Create(ctx context.Context, s model.SensorIdentity) error {
	const q = `
		INSERT INTO sensor_identities (device_id, owner_id, installation_topic, connection_token, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := p.db.Exec(ctx, q, s.DeviceID, s.OwnerID, s.InstallationTopic, s.ConnectionToken, s.CreatedAt.UTC())
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create sensor %s/%s: %w", s.OwnerID, s.DeviceID, err)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, deviceID, ownerID string) error {
	const q = `DELETE FROM sensor_identities WHERE device_id = $1 AND owner_id = $2`
	tag, err := p.db.Exec(ctx, q, deviceID, ownerID)
	if err != nil {
		return fmt.Errorf("delete sensor %s/%s: %w", ownerID, deviceID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
