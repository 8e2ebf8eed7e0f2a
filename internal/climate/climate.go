// Package climate runs the temperature-sensor pool. Readings are already
// stored as events by the dispatcher; workers forward them to telemetry
// and keep the latest sample per sensor for the API.
package climate

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
)

// PoolName is the registered name of the temperature pool.
const PoolName = string(device.ClassTemperatureSensor)

// Telemetry receives climate samples. *influxdb.Client satisfies it.
type Telemetry interface {
	WriteClimate(ieee string, temperature, humidity float64, at time.Time)
}

// Sample is the latest reading of one sensor.
type Sample struct {
	IEEE        string    `json:"ieee"`
	Temperature float64   `json:"temperature"`
	Humidity    *float64  `json:"humidity,omitempty"`
	At          time.Time `json:"at"`
}

// Latest holds the most recent sample per sensor. Safe for concurrent use.
type Latest struct {
	mu      sync.RWMutex
	samples map[string]Sample
}

// NewLatest returns an empty sample set.
func NewLatest() *Latest {
	return &Latest{samples: make(map[string]Sample)}
}

// Get returns the latest sample for ieee.
func (l *Latest) Get(ieee string) (Sample, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.samples[ieee]
	return s, ok
}

func (l *Latest) put(s Sample) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.samples[s.IEEE]; ok && cur.At.After(s.At) {
		return
	}
	l.samples[s.IEEE] = s
}

// StartPool spawns the temperature pool. telemetry may be nil.
func StartPool(sys *actor.System, workers int, telemetry Telemetry, latest *Latest) (*actor.Ref[device.Message], error) {
	return actor.SpawnPool(sys, PoolName, workers, func(int) actor.Actor[device.Message] {
		return actor.HandlerFunc[device.Message](func(_ context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
			if msg.Event == nil {
				return nil
			}
			ev := msg.Event
			r, ok := ev.Reading.(device.ClimateReading)
			if !ok {
				return fmt.Errorf("temperature pool got %s reading for %s", ev.Reading.Class(), ev.IEEE)
			}
			if telemetry != nil {
				var humidity float64
				if r.Humidity != nil {
					humidity = *r.Humidity
				}
				telemetry.WriteClimate(ev.IEEE, r.Temperature, humidity, ev.ReceivedAt)
			}
			latest.put(Sample{IEEE: ev.IEEE, Temperature: r.Temperature, Humidity: r.Humidity, At: ev.ReceivedAt})
			return nil
		})
	})
}
