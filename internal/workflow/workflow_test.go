package workflow

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/notify"
)

const (
	lamp   = "0x0017880104b1c2d3"
	washer = "0x00158d0001a2b3c4"
)

// fakeDevices stands in for a device pool: it records commands and
// answers power queries from a fixed table.
type fakeDevices struct {
	mu       sync.Mutex
	states   map[string]device.PowerState
	commands []device.Command
	silent   bool
}

func (f *fakeDevices) Handle(_ context.Context, _ *actor.Ref[device.Message], msg device.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case msg.Command != nil:
		f.commands = append(f.commands, *msg.Command)
	case msg.Query != nil && !f.silent:
		msg.Query.Reply <- f.states[msg.Query.IEEE]
	}
	return nil
}

func (f *fakeDevices) sent() []device.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Command(nil), f.commands...)
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

func newSystem(t *testing.T) *actor.System {
	t.Helper()
	sys := actor.NewSystem(context.Background(), nil)
	t.Cleanup(func() { _ = sys.Shutdown(context.Background()) })
	return sys
}

func spawnDevices(t *testing.T, sys *actor.System, name string, f *fakeDevices) {
	t.Helper()
	_, err := actor.Spawn[device.Message](sys, name, f)
	require.NoError(t, err)
}

// drain returns once the actor registered as name has handled every
// message queued before this call. The fake answers queries in mailbox
// order, so the reply comes after all earlier commands.
func drain(t *testing.T, sys *actor.System, name string) {
	t.Helper()
	_, err := actor.AskName(context.Background(), sys, name, time.Second,
		func(reply chan<- device.PowerState) device.Message {
			return device.Message{Query: &device.PowerQuery{IEEE: "drain", Reply: reply}}
		})
	require.NoError(t, err)
}

func on(ieee string) *CommandStep {
	return &CommandStep{Target: "light", IEEE: ieee, Action: device.ActionOn}
}

func TestEngine_GuardSkipsWhenStateWrong(t *testing.T) {
	sys := newSystem(t)
	lights := &fakeDevices{states: map[string]device.PowerState{lamp: {On: true, Known: true}}}
	spawnDevices(t, sys, "light", lights)
	e := NewEngine(sys, nil, nil, time.Second)

	guarded := on(lamp)
	guarded.When = &Condition{Target: "light", IEEE: lamp, State: ExpectOff}
	exec := e.Execute(context.Background(), Job{Workflow: &Workflow{Name: "evening", Enabled: true, Steps: []Step{{Command: guarded}}}})

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, 1, exec.Skipped)
	drain(t, sys, "light")
	assert.Empty(t, lights.sent())

	exec = e.Execute(context.Background(), Job{Workflow: &Workflow{Name: "evening", Enabled: true, Steps: []Step{{Command: on(lamp)}}}})
	assert.Equal(t, 1, exec.Sent)
	drain(t, sys, "light")
	require.Len(t, lights.sent(), 1)
	assert.Equal(t, exec.ID, lights.sent()[0].CorrelationID)
}

func TestEngine_GuardTimeoutAbortsOnlyThatStep(t *testing.T) {
	sys := newSystem(t)
	spawnDevices(t, sys, "appliance-state", &fakeDevices{silent: true})
	lights := &fakeDevices{}
	spawnDevices(t, sys, "light", lights)
	e := NewEngine(sys, nil, nil, 20*time.Millisecond)

	guarded := on(lamp)
	guarded.When = &Condition{Target: "appliance-state", IEEE: washer, State: ExpectOff}
	wf := &Workflow{Name: "wake", Enabled: true, Steps: []Step{
		{Command: guarded},
		{Command: &CommandStep{Target: "light", IEEE: lamp, Action: device.ActionSetBrightness, Value: 200}},
	}}

	exec := e.Execute(context.Background(), Job{Workflow: wf})

	assert.Equal(t, StatusPartial, exec.Status)
	assert.Equal(t, 1, exec.Aborted)
	require.Len(t, exec.Failures, 1)
	assert.Equal(t, "0.when", exec.Failures[0].Path)
	assert.Contains(t, exec.Failures[0].Error, actor.ErrTimeout.Error())

	drain(t, sys, "light")
	sent := lights.sent()
	require.Len(t, sent, 1, "the sibling after the timed-out guard still runs")
	assert.Equal(t, device.ActionSetBrightness, sent[0].Action)
}

func TestEngine_UnresolvableTargets(t *testing.T) {
	sys := newSystem(t)
	lights := &fakeDevices{}
	spawnDevices(t, sys, "light", lights)
	e := NewEngine(sys, nil, nil, time.Second)

	wf := &Workflow{Name: "broken", Enabled: true, Steps: []Step{
		{If: &Conditional{
			Condition: Condition{Target: "nobody", IEEE: washer, State: ExpectOn},
			Steps:     []Step{{Command: on(lamp)}},
		}},
		{Command: &CommandStep{Target: "nobody", IEEE: lamp, Action: device.ActionOff}},
		{Command: on(lamp)},
	}}
	exec := e.Execute(context.Background(), Job{Workflow: wf})

	assert.Equal(t, 2, exec.Aborted)
	assert.Equal(t, 1, exec.Sent)
	drain(t, sys, "light")
	assert.Len(t, lights.sent(), 1)
	for _, f := range exec.Failures {
		assert.Equal(t, "nobody", f.Target)
	}
}

func TestEngine_DisabledIsNoop(t *testing.T) {
	sys := newSystem(t)
	lights := &fakeDevices{}
	spawnDevices(t, sys, "light", lights)
	e := NewEngine(sys, nil, nil, time.Second)

	exec := e.Execute(context.Background(), Job{Workflow: &Workflow{Name: "off", Steps: []Step{{Command: on(lamp)}}}})

	assert.Equal(t, StatusDisabled, exec.Status)
	assert.NotEmpty(t, exec.ID)
	drain(t, sys, "light")
	assert.Empty(t, lights.sent())
}

func TestEngine_DepthFirstOrder(t *testing.T) {
	sys := newSystem(t)
	lights := &fakeDevices{states: map[string]device.PowerState{
		lamp:   {On: true, Known: true},
		washer: {On: false, Known: true},
	}}
	spawnDevices(t, sys, "light", lights)
	n := &recordingNotifier{}
	e := NewEngine(sys, n, nil, time.Second)

	cmd := func(v int) Step {
		return Step{Command: &CommandStep{Target: "light", IEEE: lamp, Action: device.ActionBrightnessMove, Value: v}}
	}
	wf := &Workflow{Name: "nested", Enabled: true, Steps: []Step{
		cmd(1),
		{If: &Conditional{Condition: Condition{Target: "light", IEEE: lamp, State: ExpectOn}, Steps: []Step{
			cmd(2),
			{If: &Conditional{Condition: Condition{Target: "light", IEEE: washer, State: ExpectOn}, Steps: []Step{cmd(99)}}},
			cmd(3),
		}}},
		{Notify: &NotifyStep{Message: "done"}},
		cmd(4),
	}}
	exec := e.Execute(context.Background(), Job{Workflow: wf, Source: "test"})
	drain(t, sys, "light")

	var values []int
	for _, c := range lights.sent() {
		values = append(values, c.Value)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, values)
	assert.Equal(t, 1, exec.Skipped)
	assert.Equal(t, 1, exec.Notified)
	require.Len(t, n.sent, 1)
	assert.Equal(t, "nested", n.sent[0].Title)
}

func TestEngine_UnknownDeviceFailsGuard(t *testing.T) {
	assert.False(t, ExpectOff.Holds(device.PowerState{}))
	assert.False(t, ExpectOn.Holds(device.PowerState{}))
	assert.True(t, ExpectOff.Holds(device.PowerState{Known: true}))
	assert.True(t, ExpectOn.Holds(device.PowerState{On: true, Known: true}))
}

func TestEngine_SubmitRunsOnPool(t *testing.T) {
	sys := newSystem(t)
	lights := &fakeDevices{}
	spawnDevices(t, sys, "light", lights)
	e := NewEngine(sys, nil, nil, time.Second)

	_, err := Submit(sys, &Workflow{Name: "x", Enabled: true}, "api")
	require.ErrorIs(t, err, actor.ErrNotRegistered)

	_, err = e.Start(5)
	require.NoError(t, err)

	for range 10 {
		id, err := Submit(sys, &Workflow{Name: "x", Enabled: true, Steps: []Step{{Command: on(lamp)}}}, "api")
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}
	assert.Eventually(t, func() bool { return len(lights.sent()) == 10 }, time.Second, 5*time.Millisecond)
}

func TestParse(t *testing.T) {
	wf, err := Parse([]byte(`
name: morning
steps:
  - if:
      condition: {target: appliance-state, ieee: "0x01", state: off}
      steps:
        - command: {target: light, ieee: "0x02", action: on}
  - command:
      target: light
      ieee: "0x02"
      action: set_brightness
      value: 120
      when: {target: light, ieee: "0x02", state: on}
  - notify: {message: "Good morning"}
`))
	require.NoError(t, err)
	assert.True(t, wf.Enabled)
	require.Len(t, wf.Steps, 3)
	assert.Equal(t, ExpectOff, wf.Steps[0].If.Condition.State)
	assert.Equal(t, 120, wf.Steps[1].Command.Value)

	wf, err = Parse([]byte(`{"name":"json-one","enabled":false,"steps":[{"command":{"target":"light","ieee":"0x02","action":"toggle"}}]}`))
	require.NoError(t, err)
	assert.False(t, wf.Enabled)

	_, err = Parse([]byte("name: x\nstepz: []\n"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		wf      *Workflow
		wantErr error
	}{
		{"nil", nil, ErrInvalidWorkflow},
		{"bad name", &Workflow{Name: "Has Spaces", Steps: []Step{{Command: on(lamp)}}}, ErrInvalidName},
		{"no steps", &Workflow{Name: "empty"}, ErrNoSteps},
		{"empty step", &Workflow{Name: "x", Steps: []Step{{}}}, ErrInvalidStep},
		{"two kinds", &Workflow{Name: "x", Steps: []Step{{Command: on(lamp), Notify: &NotifyStep{Message: "m"}}}}, ErrInvalidStep},
		{"bad action", &Workflow{Name: "x", Steps: []Step{{Command: &CommandStep{Target: "light", IEEE: lamp, Action: "dance"}}}}, ErrInvalidStep},
		{"bad guard", &Workflow{Name: "x", Steps: []Step{{Command: &CommandStep{
			Target: "light", IEEE: lamp, Action: device.ActionOn, When: &Condition{Target: "light", IEEE: lamp, State: "dim"},
		}}}}, ErrInvalidStep},
		{"empty conditional", &Workflow{Name: "x", Steps: []Step{{If: &Conditional{
			Condition: Condition{Target: "light", IEEE: lamp, State: ExpectOn},
		}}}}, ErrInvalidStep},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, Validate(tt.wf), tt.wantErr)
		})
	}

	// Problems are collected, not just the first.
	err := Validate(&Workflow{Name: "", Steps: []Step{{}}})
	assert.ErrorIs(t, err, ErrInvalidName)
	assert.ErrorIs(t, err, ErrInvalidStep)

	deep := []Step{{Command: on(lamp)}}
	for range maxDepth {
		deep = []Step{{If: &Conditional{Condition: Condition{Target: "light", IEEE: lamp, State: ExpectOn}, Steps: deep}}}
	}
	assert.ErrorIs(t, Validate(&Workflow{Name: "deep", Steps: deep}), ErrInvalidStep)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestRegistry_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: alpha\nsteps:\n  - command: {target: light, ieee: \"0x02\", action: on}\n")
	writeFile(t, dir, "b.json", `{"name":"beta","steps":[{"notify":{"message":"hi"}}]}`)
	writeFile(t, dir, "broken.yml", "name: [")
	writeFile(t, dir, "README.md", "not a workflow")

	r := NewRegistry(dir)
	n, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	wf, err := r.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, "hi", wf.Steps[0].Notify.Message)

	_, err = r.Get("broken")
	assert.ErrorIs(t, err, ErrNotFound)

	names := []string{}
	for _, wf := range r.List() {
		names = append(names, wf.Name)
	}
	assert.Equal(t, []string{"alpha", "beta"}, names)

	writeFile(t, dir, "c.yaml", "name: alpha\nsteps:\n  - notify: {message: dup}\n")
	_, err = r.Load()
	assert.ErrorIs(t, err, ErrInvalidWorkflow)
}

func TestRegistry_MissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "nope"))
	n, err := r.Load()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRegistry_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	_, err := r.Load()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	writeFile(t, dir, "late.yaml", "name: late\nsteps:\n  - notify: {message: hello}\n")

	assert.Eventually(t, func() bool {
		_, err := r.Get("late")
		return err == nil
	}, 3*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(filepath.Join(dir, "late.yaml")))
	assert.Eventually(t, func() bool {
		_, err := r.Get("late")
		return errors.Is(err, ErrNotFound)
	}, 3*time.Second, 20*time.Millisecond)
}
