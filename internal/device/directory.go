package device

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homegateway/internal/infrastructure/database"
)

// Logger defines the logging interface used by the device package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Names is the read-only view of the directory handed to actors that need
// a device's friendly name for outbound commands.
type Names interface {
	FriendlyName(ieee string) (string, bool)
}

// Directory maps device addresses to the bridge's friendly names.
//
// It is written only by the dispatcher when a directory snapshot arrives
// and read concurrently by everything else. Entries are persisted in
// known_devices so names survive a restart before the next snapshot.
//
// All public methods are thread-safe.
type Directory struct {
	db     *database.DB
	mu     sync.RWMutex
	names  map[string]string
	logger Logger
}

// NewDirectory creates an empty directory backed by db.
func NewDirectory(db *database.DB) *Directory {
	return &Directory{
		db:     db,
		names:  make(map[string]string),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the directory.
func (d *Directory) SetLogger(logger Logger) {
	d.logger = logger
}

// Load replaces the in-memory map with the persisted directory.
// This should be called on application startup.
func (d *Directory) Load(ctx context.Context) error {
	rows, err := d.db.QueryContext(ctx, "SELECT ieee, friendly_name FROM known_devices")
	if err != nil {
		return fmt.Errorf("loading known devices: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string)
	for rows.Next() {
		var ieee, name string
		if err := rows.Scan(&ieee, &name); err != nil {
			return fmt.Errorf("scanning known device: %w", err)
		}
		names[ieee] = name
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating known devices: %w", err)
	}

	d.mu.Lock()
	d.names = names
	d.mu.Unlock()

	d.logger.Info("device directory loaded", "count", len(names))
	return nil
}

// Update persists a directory snapshot and merges it into the map.
// Devices absent from the snapshot are kept; the bridge omits devices
// that are mid-interview.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - devices: Snapshot entries from DecodeBridgeDevices
//
// Returns:
//   - error: nil on success; on error the in-memory map is unchanged
func (d *Directory) Update(ctx context.Context, devices []BridgeDevice) error {
	now := database.FormatTime(time.Now())
	err := d.db.WithTx(ctx, func(tx *sql.Tx) error {
		for _, dev := range devices {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO known_devices (ieee, friendly_name, updated_at) VALUES (?, ?, ?)
				 ON CONFLICT (ieee) DO UPDATE SET friendly_name = excluded.friendly_name, updated_at = excluded.updated_at`,
				dev.IEEEAddress, dev.FriendlyName, now,
			); err != nil {
				return fmt.Errorf("upserting known device %s: %w", dev.IEEEAddress, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	for _, dev := range devices {
		d.names[dev.IEEEAddress] = dev.FriendlyName
	}
	d.mu.Unlock()

	d.logger.Debug("device directory updated", "devices", len(devices))
	return nil
}

// FriendlyName returns the bridge name for ieee.
func (d *Directory) FriendlyName(ieee string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	name, ok := d.names[ieee]
	return name, ok
}

// Len returns the number of known devices.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names)
}
