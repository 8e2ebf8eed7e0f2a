package alarm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/delayqueue"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/infrastructure/database"
	"github.com/nerrad567/homegateway/internal/infrastructure/database/databasetest"
	"github.com/nerrad567/homegateway/internal/workflow"
)

var now = time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

type staticWorkflows map[string]*workflow.Workflow

func (s staticWorkflows) Get(name string) (*workflow.Workflow, error) {
	wf, ok := s[name]
	if !ok {
		return nil, workflow.ErrNotFound
	}
	return wf, nil
}

type submissions struct {
	mu   sync.Mutex
	jobs []workflow.Job
}

func (s *submissions) Handle(_ context.Context, _ *actor.Ref[workflow.Job], job workflow.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

func (s *submissions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

type fixture struct {
	sys   *actor.System
	db    *database.DB
	queue *delayqueue.Queue[Job]
	runs  *submissions
	actor *Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := databasetest.Open(t)
	q, err := delayqueue.New[Job](context.Background(), db.DB, QueueName, delayqueue.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	sys := actor.NewSystem(context.Background(), nil)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })

	runs := &submissions{}
	_, err = actor.Spawn[workflow.Job](sys, workflow.PoolName, runs)
	require.NoError(t, err)

	wake := &workflow.Workflow{Name: "wake-up", Enabled: true, Steps: []workflow.Step{{
		Command: &workflow.CommandStep{Target: "light", IEEE: "0x01", Action: device.ActionOn},
	}}}
	a := &Actor{cfg: Config{
		System:    sys,
		KV:        db,
		Queue:     q,
		Workflows: staticWorkflows{"wake-up": wake},
		Workflow:  "wake-up",
		Lead:      10 * time.Minute,
		Logger:    noopLogger{},
		Now:       func() time.Time { return now },
	}}
	return &fixture{sys: sys, db: db, queue: q, runs: runs, actor: a}
}

func (f *fixture) next(t *testing.T, at time.Time) {
	t.Helper()
	require.NoError(t, f.actor.Handle(context.Background(), nil, Msg{Next: &NextAlarm{At: at}}))
}

func TestRecord_StoresAndSchedules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alarmAt := now.Add(8*time.Hour + 500*time.Nanosecond)

	f.next(t, alarmAt)

	stored, ok, err := Next(ctx, f.db)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Equal(alarmAt.Truncate(time.Microsecond)))

	depth, err := f.queue.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, depth)

	// Due ten minutes before the alarm, not earlier.
	msg, err := f.queue.Lease(ctx, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestRecord_LeadAlreadyPassed(t *testing.T) {
	f := newFixture(t)
	f.next(t, now.Add(5*time.Minute))

	depth, err := f.queue.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
	_, ok, err := Next(context.Background(), f.db)
	require.NoError(t, err)
	assert.True(t, ok, "the alarm time is still recorded")
}

func TestFire(t *testing.T) {
	alarmAt := now.Add(8 * time.Hour)

	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture)
		job     Job
		want    int
	}{
		{
			name:    "current alarm runs workflow",
			prepare: func(t *testing.T, f *fixture) {},
			job:     Job{AlarmAt: alarmAt, Workflow: "wake-up"},
			want:    1,
		},
		{
			name:    "moved alarm is skipped",
			prepare: func(t *testing.T, f *fixture) { f.next(t, alarmAt.Add(time.Hour)) },
			job:     Job{AlarmAt: alarmAt, Workflow: "wake-up"},
		},
		{
			name:    "cleared alarm is skipped",
			prepare: func(t *testing.T, f *fixture) { f.next(t, time.Time{}) },
			job:     Job{AlarmAt: alarmAt, Workflow: "wake-up"},
		},
		{
			name:    "unknown workflow is logged",
			prepare: func(t *testing.T, f *fixture) {},
			job:     Job{AlarmAt: alarmAt, Workflow: "gone"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.next(t, alarmAt)
			tt.prepare(t, f)

			job := tt.job
			require.NoError(t, f.actor.Handle(context.Background(), nil, Msg{Fire: &job}))

			if tt.want == 0 {
				time.Sleep(20 * time.Millisecond)
				assert.Zero(t, f.runs.count())
				return
			}
			assert.Eventually(t, func() bool { return f.runs.count() == tt.want }, time.Second, 5*time.Millisecond)
			f.runs.mu.Lock()
			assert.Equal(t, "alarm", f.runs.jobs[0].Source)
			assert.Equal(t, "wake-up", f.runs.jobs[0].Workflow.Name)
			f.runs.mu.Unlock()
		})
	}
}

func TestRecord_ViaAsk(t *testing.T) {
	f := newFixture(t)
	cfg := f.actor.cfg
	_, err := Start(cfg)
	require.NoError(t, err)

	require.NoError(t, Record(context.Background(), f.sys, now.Add(9*time.Hour), time.Second))
	at, ok, err := Next(context.Background(), f.db)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, now.Add(9*time.Hour), at)
}
