package influxdb

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/homegateway/internal/infrastructure/config"
)

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{Enabled: false})
	if !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestNilClient_DropsWrites(t *testing.T) {
	var c *Client

	// None of these may panic.
	c.WritePowerReading(PowerReading{IEEE: "0x01", Power: 12})
	c.WriteTransition("door-sensor", "0x02", "open", time.Now())
	c.WriteClimate("0x03", 21.5, 40, time.Now())

	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
	if got := c.Stats(); got != (Stats{}) {
		t.Errorf("Stats() = %+v, want zeros", got)
	}
}

func TestPowerPoint(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	line := write.PointToLineProtocol(powerPoint(PowerReading{
		IEEE:    "0x00158d0001a2b3c4",
		Name:    "Washer",
		Power:   1200.5,
		Voltage: 230,
		At:      at,
	}), time.Second)

	for _, want := range []string{
		MeasurementPower,
		"ieee=0x00158d0001a2b3c4",
		"name=Washer",
		"power=1200.5",
		"voltage=230",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	for _, absent := range []string{"energy=", "current="} {
		if strings.Contains(line, absent) {
			t.Errorf("line protocol %q should omit %q", line, absent)
		}
	}
}

func TestTransitionPoint(t *testing.T) {
	line := write.PointToLineProtocol(
		transitionPoint("smart-switch", "0x01", "off", time.Unix(1700000000, 0)), time.Second)

	want := `state_transition,class=smart-switch,ieee=0x01 state="off" 1700000000`
	if strings.TrimSpace(line) != want {
		t.Errorf("line protocol = %q, want %q", line, want)
	}
}

func TestClimatePoint(t *testing.T) {
	line := write.PointToLineProtocol(
		climatePoint("0x03", 21.5, 40, time.Unix(1700000000, 0)), time.Second)

	want := `climate,ieee=0x03 humidity=40,temperature=21.5 1700000000`
	if strings.TrimSpace(line) != want {
		t.Errorf("line protocol = %q, want %q", line, want)
	}
}

// TestIntegration_Connect needs a server; set HOMEGW_TEST_INFLUX_URL and
// HOMEGW_TEST_INFLUX_TOKEN to run it.
func TestIntegration_Connect(t *testing.T) {
	url := os.Getenv("HOMEGW_TEST_INFLUX_URL")
	if url == "" {
		t.Skip("HOMEGW_TEST_INFLUX_URL not set")
	}

	c, err := Connect(config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         os.Getenv("HOMEGW_TEST_INFLUX_TOKEN"),
		Org:           "homegateway",
		Bucket:        "telemetry",
		FlushInterval: 1,
	}, WithSiteTag("test-site"))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer c.Close() //nolint:errcheck // test cleanup

	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	c.WritePowerReading(PowerReading{IEEE: "0xtest", Name: "Garage plug", Power: 1, At: time.Now()})
	if got := c.Stats().Queued; got != 1 {
		t.Errorf("Stats().Queued = %d, want 1", got)
	}
}
