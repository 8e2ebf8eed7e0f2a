package climate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
)

type recordingTelemetry struct {
	mu    sync.Mutex
	temps []float64
}

func (r *recordingTelemetry) WriteClimate(_ string, temperature, _ float64, _ time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.temps = append(r.temps, temperature)
}

func TestPool_RecordsLatestSample(t *testing.T) {
	sys := actor.NewSystem(context.Background(), nil)
	defer sys.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	tel := &recordingTelemetry{}
	latest := NewLatest()
	_, err := StartPool(sys, 1, tel, latest)
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	humidity := 48.5
	for i, temp := range []float64{20.5, 21.0} {
		ev := &device.Event{
			Class:      device.ClassTemperatureSensor,
			IEEE:       "0xbedroom",
			Reading:    device.ClimateReading{Temperature: temp, Humidity: &humidity},
			ReceivedAt: at.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, actor.Send(sys, PoolName, device.Message{Event: ev}))
	}

	assert.Eventually(t, func() bool {
		s, ok := latest.Get("0xbedroom")
		return ok && s.Temperature == 21.0
	}, time.Second, 5*time.Millisecond)

	tel.mu.Lock()
	assert.Equal(t, []float64{20.5, 21.0}, tel.temps)
	tel.mu.Unlock()
}

func TestLatest_KeepsNewest(t *testing.T) {
	l := NewLatest()
	at := time.Now()
	l.put(Sample{IEEE: "a", Temperature: 19, At: at})
	l.put(Sample{IEEE: "a", Temperature: 5, At: at.Add(-time.Hour)})

	s, ok := l.Get("a")
	require.True(t, ok)
	assert.Equal(t, 19.0, s.Temperature)
}
