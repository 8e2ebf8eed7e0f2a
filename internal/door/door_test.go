package door

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/database/databasetest"
	"github.com/nerrad567/homegateway/internal/notify"
)

const frontDoor = "0x00158d0001a2b3c4"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type recordingHub struct {
	mu       sync.Mutex
	payloads []any
}

func (h *recordingHub) Broadcast(_ string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.payloads = append(h.payloads, payload)
}

func newArmed(clock *fakeClock, n notify.Notifier) *Armed {
	deps := Deps{
		Notifier: n,
		Doors:    map[string]Settings{frontDoor: {Name: "Front door", OpenTimeout: 5 * time.Minute}},
		Now:      clock.Now,
	}.withDefaults()
	return &Armed{deps: deps, open: map[string]bool{}, lastTrigger: map[string]time.Time{}}
}

func TestArmed_TwoTriggersInsideQuietWindowNotifyOnce(t *testing.T) {
	clock := newFakeClock()
	n := &recordingNotifier{}
	a := newArmed(clock, n)
	ctx := context.Background()

	// A nil self is fine: the door is not armed for this address.
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Opened, IEEE: "0xunarmed"}))

	a.open[frontDoor] = true
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))
	clock.Advance(30 * time.Second)
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))

	require.Equal(t, 1, n.count())
	assert.Equal(t, "Front door has been left open.", n.sent[0].Message)

	// The second trigger moved the window, so 45s later is still quiet.
	clock.Advance(45 * time.Second)
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))
	assert.Equal(t, 1, n.count())

	clock.Advance(61 * time.Second)
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))
	assert.Equal(t, 2, n.count())
}

func TestArmed_TriggerAfterCloseIsNoop(t *testing.T) {
	clock := newFakeClock()
	n := &recordingNotifier{}
	a := newArmed(clock, n)
	ctx := context.Background()

	a.open[frontDoor] = true
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Closed, IEEE: frontDoor}))
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))
	require.NoError(t, a.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: "0xnever-seen"}))

	assert.Equal(t, 0, n.count())
}

func TestArmed_TimerFires(t *testing.T) {
	sys := actor.NewSystem(context.Background(), nil)
	defer sys.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	n := &recordingNotifier{}
	ref, err := StartArmed(Deps{
		System:   sys,
		Notifier: n,
		Doors:    map[string]Settings{frontDoor: {Name: "Front door", OpenTimeout: 10 * time.Millisecond}},
	})
	require.NoError(t, err)
	require.Len(t, sys.Members(GroupName), 1)

	require.NoError(t, ref.Send(Msg{Kind: Opened, IEEE: frontDoor}))
	assert.Eventually(t, func() bool { return n.count() == 1 }, time.Second, 5*time.Millisecond)

	// Closing before the timer fires suppresses the alert.
	require.NoError(t, ref.Send(Msg{Kind: Closed, IEEE: frontDoor}))
	require.NoError(t, ref.Send(Msg{Kind: Opened, IEEE: frontDoor}))
	require.NoError(t, ref.Send(Msg{Kind: Closed, IEEE: frontDoor}))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, n.count())
}

func newDerived(t *testing.T, clock *fakeClock, hub notify.Broadcaster) (*Derived, *device.SQLiteStateRepository) {
	t.Helper()
	repo := device.NewSQLiteStateRepository(databasetest.Open(t))
	d := &Derived{deps: Deps{States: repo, Hub: hub, Now: clock.Now}.withDefaults()}
	require.NoError(t, d.Init(context.Background(), nil))
	return d, repo
}

func TestDerived_DeDuplicatesAndDebounces(t *testing.T) {
	clock := newFakeClock()
	hub := &recordingHub{}
	d, repo := newDerived(t, clock, hub)
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Opened, IEEE: frontDoor, CorrelationID: "c-1"}))
	clock.Advance(500 * time.Millisecond)
	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Closed, IEEE: frontDoor}))
	clock.Advance(2 * time.Second)
	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Opened, IEEE: frontDoor}))
	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Trigger, IEEE: frontDoor}))

	state, ok := d.State(frontDoor)
	require.True(t, ok)
	assert.Equal(t, StateOpen, state)

	history, err := repo.GetHistory(ctx, frontDoor, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "bounce inside 1s and repeat opening are dropped")
	assert.Equal(t, "c-1", history[0].CorrelationID)
	assert.Len(t, hub.payloads, 1)

	clock.Advance(2 * time.Second)
	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Closed, IEEE: frontDoor}))
	history, err = repo.GetHistory(ctx, frontDoor, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestDerived_RestartRehydrates(t *testing.T) {
	clock := newFakeClock()
	d, repo := newDerived(t, clock, nil)
	ctx := context.Background()

	require.NoError(t, d.Handle(ctx, nil, Msg{Kind: Opened, IEEE: frontDoor}))

	restarted := &Derived{deps: Deps{States: repo, Now: clock.Now}.withDefaults()}
	require.NoError(t, restarted.Init(ctx, nil))
	state, ok := restarted.State(frontDoor)
	require.True(t, ok)
	assert.Equal(t, StateOpen, state)

	// Already open: the repeat is suppressed even with no debounce history.
	require.NoError(t, restarted.Handle(ctx, nil, Msg{Kind: Opened, IEEE: frontDoor}))
	history, err := repo.GetHistory(ctx, frontDoor, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

type memReadings struct {
	mu   sync.Mutex
	rows []device.DoorReading
}

func (m *memReadings) InsertDoorReading(_ context.Context, _ *device.Event, r device.DoorReading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, r)
	return nil
}

func TestSensorPool_BroadcastsToListeners(t *testing.T) {
	sys := actor.NewSystem(context.Background(), nil)
	defer sys.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	got := make(chan Msg, 2)
	listener, err := actor.Spawn[Msg](sys, "listener", actor.HandlerFunc[Msg](
		func(_ context.Context, _ *actor.Ref[Msg], m Msg) error {
			got <- m
			return nil
		}))
	require.NoError(t, err)
	sys.Join(GroupName, listener)

	readings := &memReadings{}
	pool, err := StartSensorPool(Deps{System: sys, Readings: readings}, 2)
	require.NoError(t, err)

	ev := &device.Event{
		CorrelationID: uuid.New(),
		Class:         device.ClassDoorSensor,
		IEEE:          frontDoor,
		Reading:       device.DoorReading{Contact: false},
	}
	require.NoError(t, pool.Send(device.Message{Event: ev}))

	select {
	case m := <-got:
		assert.Equal(t, Opened, m.Kind)
		assert.Equal(t, frontDoor, m.IEEE)
		assert.Equal(t, ev.CorrelationID.String(), m.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("listener not reached")
	}
	readings.mu.Lock()
	assert.Len(t, readings.rows, 1)
	readings.mu.Unlock()
}

// slowFirstReadings stalls the first insert so a later reading for the same
// door would overtake it on another worker.
type slowFirstReadings struct {
	memReadings
	once sync.Once
}

func (s *slowFirstReadings) InsertDoorReading(ctx context.Context, ev *device.Event, r device.DoorReading) error {
	s.once.Do(func() { time.Sleep(50 * time.Millisecond) })
	return s.memReadings.InsertDoorReading(ctx, ev, r)
}

func TestSensorPool_KeepsPerDoorOrder(t *testing.T) {
	sys := actor.NewSystem(context.Background(), nil)
	defer sys.Shutdown(context.Background()) //nolint:errcheck // test cleanup

	got := make(chan Msg, 2)
	listener, err := actor.Spawn[Msg](sys, "listener", actor.HandlerFunc[Msg](
		func(_ context.Context, _ *actor.Ref[Msg], m Msg) error {
			got <- m
			return nil
		}))
	require.NoError(t, err)
	sys.Join(GroupName, listener)

	pool, err := StartSensorPool(Deps{System: sys, Readings: &slowFirstReadings{}}, 4)
	require.NoError(t, err)

	for _, contact := range []bool{false, true} {
		require.NoError(t, pool.Send(device.Message{Event: &device.Event{
			CorrelationID: uuid.New(),
			Class:         device.ClassDoorSensor,
			IEEE:          frontDoor,
			Reading:       device.DoorReading{Contact: contact},
		}}))
	}

	var kinds []Kind
	for range 2 {
		select {
		case m := <-got:
			kinds = append(kinds, m.Kind)
		case <-time.After(time.Second):
			t.Fatalf("listener saw %v, want two events", kinds)
		}
	}
	assert.Equal(t, []Kind{Opened, Closed}, kinds)
}
