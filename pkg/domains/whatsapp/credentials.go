package whatsapp

import (
	"context"
	"fmt"

	"github.com/wabridge/pkg/protocol"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waLog "go.mau.fi/whatsmeow/util/log"
	"go.uber.org/zap"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"
)

// CredentialProvider persists per-tenant authentication material so sessions
// survive process restarts without re-pairing.
type CredentialProvider interface {
	// Load returns the stored credentials for a tenant, or nil when the
	// tenant has never paired (or was purged).
	Load(ctx context.Context, tenantID uint) (protocol.Credentials, error)
	// Provision creates fresh credentials for a new pairing attempt.
	Provision(ctx context.Context, tenantID uint) (protocol.Credentials, error)
	// Persist writes credentials back after the driver enriched them
	// (typically once the account identity is known).
	Persist(ctx context.Context, creds protocol.Credentials) error
	// Purge removes a tenant's credentials. Idempotent.
	Purge(ctx context.Context, tenantID uint) error
	// Tenants lists every tenant with stored credentials.
	Tenants(ctx context.Context) ([]uint, error)
}

// credentialStore keeps whatsmeow device material in the application
// database by wrapping the shared sql.DB in a sqlstore container. Devices
// are mapped to tenants through a BusinessName marker. When the shared
// handle cannot serve the store (dev setups without Postgres), it falls back
// to a local sqlite file.
type credentialStore struct {
	container *sqlstore.Container
}

const tenantMarker = "tenant:%d"

func NewCredentialStore(ctx context.Context, db *gorm.DB) (CredentialProvider, error) {
	storeLog := waLog.Stdout("CredStore", "INFO", true)

	if db != nil {
		sqlDB, err := db.DB()
		if err == nil {
			container := sqlstore.NewWithDB(sqlDB, "postgres", storeLog)
			if err := container.Upgrade(ctx); err == nil {
				return &credentialStore{container: container}, nil
			} else {
				zap.L().Warn("whatsapp: sqlstore upgrade on shared db failed, falling back to sqlite", zap.Error(err))
			}
		}
	}

	container, err := sqlstore.New(ctx, "sqlite", "file:whatsapp-store.db?_pragma=foreign_keys(1)", storeLog)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}
	return &credentialStore{container: container}, nil
}

func (c *credentialStore) deviceFor(ctx context.Context, tenantID uint) (*store.Device, error) {
	devices, err := c.container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored devices: %w", err)
	}
	marker := fmt.Sprintf(tenantMarker, tenantID)
	for _, d := range devices {
		if d != nil && d.BusinessName == marker {
			return d, nil
		}
	}
	return nil, nil
}

func (c *credentialStore) Load(ctx context.Context, tenantID uint) (protocol.Credentials, error) {
	device, err := c.deviceFor(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, nil
	}
	return device, nil
}

func (c *credentialStore) Provision(ctx context.Context, tenantID uint) (protocol.Credentials, error) {
	device := c.container.NewDevice()
	device.BusinessName = fmt.Sprintf(tenantMarker, tenantID)
	if err := c.container.PutDevice(ctx, device); err != nil {
		// Keep the in-memory device so pairing can proceed; persistence is
		// retried once the account identity is known.
		zap.L().Warn("whatsapp: failed to persist provisioned device", zap.Error(err), zap.Uint("tenant_id", tenantID))
	}
	return device, nil
}

func (c *credentialStore) Persist(ctx context.Context, creds protocol.Credentials) error {
	device, ok := creds.(*store.Device)
	if !ok || device == nil {
		return fmt.Errorf("invalid credentials: expected *store.Device, got %T", creds)
	}
	return c.container.PutDevice(ctx, device)
}

func (c *credentialStore) Purge(ctx context.Context, tenantID uint) error {
	device, err := c.deviceFor(ctx, tenantID)
	if err != nil {
		return err
	}
	if device == nil {
		return nil
	}
	return c.container.DeleteDevice(ctx, device)
}

func (c *credentialStore) Tenants(ctx context.Context) ([]uint, error) {
	devices, err := c.container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	var tenants []uint
	for _, d := range devices {
		if d == nil {
			continue
		}
		var id uint
		if _, err := fmt.Sscanf(d.BusinessName, tenantMarker, &id); err == nil && id != 0 {
			tenants = append(tenants, id)
		}
	}
	return tenants, nil
}
