package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/homegateway/internal/infrastructure/database"
)

// Store persists raw events and per-class readings.
type Store struct {
	db *database.DB
}

// NewStore creates a Store over db.
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// InsertEvent records a decoded event under its correlation id.
func (s *Store) InsertEvent(ctx context.Context, ev *Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (correlation_id, topic, class, ieee, payload, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.CorrelationID.String(), ev.Topic, string(ev.Class), ev.IEEE, string(ev.Raw),
		database.FormatTime(ev.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting event %s: %w", ev.CorrelationID, err)
	}
	return nil
}

// InsertDoorReading stores a contact sensor reading.
func (s *Store) InsertDoorReading(ctx context.Context, ev *Event, r DoorReading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO door_readings (correlation_id, ieee, contact, battery, recorded_at)
		 VALUES (?, ?, ?, ?, ?)`,
		ev.CorrelationID.String(), ev.IEEE, r.Contact, r.Battery, database.FormatTime(ev.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting door reading: %w", err)
	}
	return nil
}

// InsertPowerReading stores a smart plug reading.
func (s *Store) InsertPowerReading(ctx context.Context, ev *Event, r PowerReading) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO power_readings (correlation_id, ieee, power, energy, voltage, current, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.CorrelationID.String(), ev.IEEE, r.Power, r.Energy, r.Voltage, r.Current,
		database.FormatTime(ev.ReceivedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting power reading: %w", err)
	}
	return nil
}

// UpsertLightState stores the latest reported light state.
func (s *Store) UpsertLightState(ctx context.Context, ieee string, r LightReading, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO light_state (ieee, state, brightness, color_temp, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (ieee) DO UPDATE SET state = excluded.state, brightness = excluded.brightness,
		   color_temp = excluded.color_temp, updated_at = excluded.updated_at`,
		ieee, r.State, r.Brightness, r.ColorTemp, database.FormatTime(at),
	)
	if err != nil {
		return fmt.Errorf("upserting light state %s: %w", ieee, err)
	}
	return nil
}

// LightState returns the stored state of a light, or ErrNotFound.
func (s *Store) LightState(ctx context.Context, ieee string) (LightReading, error) {
	var r LightReading
	var brightness, colorTemp sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT state, brightness, color_temp FROM light_state WHERE ieee = ?", ieee,
	).Scan(&r.State, &brightness, &colorTemp)
	if errors.Is(err, sql.ErrNoRows) {
		return r, ErrNotFound
	}
	if err != nil {
		return r, fmt.Errorf("reading light state %s: %w", ieee, err)
	}
	if brightness.Valid {
		b := int(brightness.Int64)
		r.Brightness = &b
	}
	if colorTemp.Valid {
		c := int(colorTemp.Int64)
		r.ColorTemp = &c
	}
	return r, nil
}

// CountEvents returns how many events are stored for ieee.
func (s *Store) CountEvents(ctx context.Context, ieee string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events WHERE ieee = ?", ieee).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting events: %w", err)
	}
	return n, nil
}
