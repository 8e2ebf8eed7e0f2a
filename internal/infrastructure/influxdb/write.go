package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the gateway.
const (
	MeasurementPower      = "appliance_power"
	MeasurementTransition = "state_transition"
	MeasurementClimate    = "climate"
)

// PowerReading is one smart plug sample.
type PowerReading struct {
	IEEE    string
	Name    string
	Power   float64
	Energy  float64
	Voltage float64
	Current float64
	At      time.Time
}

// WritePowerReading records a smart plug sample.
func (c *Client) WritePowerReading(r PowerReading) {
	c.enqueue(func() *write.Point { return powerPoint(r) })
}

// WriteTransition records a derived state change such as a door opening or
// an appliance switching off.
func (c *Client) WriteTransition(class, ieee, state string, at time.Time) {
	c.enqueue(func() *write.Point { return transitionPoint(class, ieee, state, at) })
}

// WriteClimate records a temperature sensor sample.
func (c *Client) WriteClimate(ieee string, temperature, humidity float64, at time.Time) {
	c.enqueue(func() *write.Point { return climatePoint(ieee, temperature, humidity, at) })
}

// enqueue builds the point only when it will be written.
func (c *Client) enqueue(build func() *write.Point) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(build())
	c.queued.Add(1)
}

func powerPoint(r PowerReading) *write.Point {
	fields := map[string]any{"power": r.Power}
	// Plugs that do not meter these report zero; leave the fields out.
	if r.Energy > 0 {
		fields["energy"] = r.Energy
	}
	if r.Voltage > 0 {
		fields["voltage"] = r.Voltage
	}
	if r.Current > 0 {
		fields["current"] = r.Current
	}
	return write.NewPoint(MeasurementPower,
		map[string]string{"ieee": r.IEEE, "name": r.Name},
		fields,
		r.At,
	)
}

func transitionPoint(class, ieee, state string, at time.Time) *write.Point {
	return write.NewPoint(MeasurementTransition,
		map[string]string{"class": class, "ieee": ieee},
		map[string]any{"state": state},
		at,
	)
}

func climatePoint(ieee string, temperature, humidity float64, at time.Time) *write.Point {
	return write.NewPoint(MeasurementClimate,
		map[string]string{"ieee": ieee},
		map[string]any{"temperature": temperature, "humidity": humidity},
		at,
	)
}
