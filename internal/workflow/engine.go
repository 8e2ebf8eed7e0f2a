package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homegateway/internal/actor"
	"github.com/nerrad567/homegateway/internal/device"
	"github.com/nerrad567/homegateway/internal/notify"
)

// PoolName is the registered name of the engine pool.
const PoolName = "workflow"

// ExecutedChannel is the websocket channel execution summaries go to.
const ExecutedChannel = "workflow.executed"

// DefaultAskTimeout bounds each guard query.
const DefaultAskTimeout = 10 * time.Second

// maxExecutionTime is the hard limit for one workflow run.
const maxExecutionTime = 2 * time.Minute

// Job asks the engine pool to run a workflow.
type Job struct {
	ExecutionID string
	Workflow    *Workflow
	Source      string
}

// Engine interprets workflows against the live actor system.
//
// Guards are answered by device.PowerQuery round trips; commands are
// fire-and-forget device.Command sends. A guard that times out or whose
// target is not registered aborts only its own step.
//
// Thread Safety: Execute is safe for concurrent use. Each run keeps its
// own counters.
type Engine struct {
	sys        *actor.System
	notifier   notify.Notifier
	hub        notify.Broadcaster
	askTimeout time.Duration
	logger     Logger
}

// NewEngine creates an engine. notifier and hub may be nil; a zero
// askTimeout means DefaultAskTimeout.
func NewEngine(sys *actor.System, notifier notify.Notifier, hub notify.Broadcaster, askTimeout time.Duration) *Engine {
	if askTimeout <= 0 {
		askTimeout = DefaultAskTimeout
	}
	return &Engine{
		sys:        sys,
		notifier:   notifier,
		hub:        hub,
		askTimeout: askTimeout,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Start spawns the engine pool under PoolName.
func (e *Engine) Start(workers int) (*actor.Ref[Job], error) {
	return actor.SpawnPool(e.sys, PoolName, workers, func(int) actor.Actor[Job] {
		return actor.HandlerFunc[Job](func(ctx context.Context, _ *actor.Ref[Job], job Job) error {
			e.Execute(ctx, job)
			return nil
		})
	})
}

// Submit queues wf on the engine pool and returns the execution id.
func Submit(sys *actor.System, wf *Workflow, source string) (string, error) {
	id := uuid.NewString()
	if err := actor.Send(sys, PoolName, Job{ExecutionID: id, Workflow: wf, Source: source}); err != nil {
		return "", fmt.Errorf("submitting workflow %q: %w", wf.Name, err)
	}
	return id, nil
}

// run is the per-execution state threaded through the step walk.
type run struct {
	exec *Execution
}

// Execute runs a workflow to completion and returns its summary.
// A disabled workflow is logged and not run.
func (e *Engine) Execute(ctx context.Context, job Job) *Execution {
	wf := job.Workflow
	if job.ExecutionID == "" {
		job.ExecutionID = uuid.NewString()
	}
	exec := &Execution{
		ID:        job.ExecutionID,
		Workflow:  wf.Name,
		Source:    job.Source,
		StartedAt: time.Now().UTC(),
	}

	if !wf.Enabled {
		exec.Status = StatusDisabled
		exec.CompletedAt = exec.StartedAt
		e.logger.Info("workflow disabled, not executed", "workflow", wf.Name, "execution_id", exec.ID)
		return exec
	}

	ctx, cancel := context.WithTimeout(ctx, maxExecutionTime)
	defer cancel()

	e.logger.Info("workflow execution started",
		"workflow", wf.Name,
		"execution_id", exec.ID,
		"source", job.Source,
		"steps", len(wf.Steps),
	)

	r := &run{exec: exec}
	e.walk(ctx, r, wf.Steps, "")

	exec.CompletedAt = time.Now().UTC()
	switch {
	case ctx.Err() != nil:
		exec.Status = StatusCancelled
	case exec.Aborted > 0:
		exec.Status = StatusPartial
	default:
		exec.Status = StatusCompleted
	}

	e.logger.Info("workflow execution complete",
		"workflow", wf.Name,
		"execution_id", exec.ID,
		"status", exec.Status,
		"sent", exec.Sent,
		"skipped", exec.Skipped,
		"aborted", exec.Aborted,
		"duration_ms", exec.CompletedAt.Sub(exec.StartedAt).Milliseconds(),
	)
	if e.hub != nil {
		e.hub.Broadcast(ExecutedChannel, exec)
	}
	return exec
}

func (e *Engine) walk(ctx context.Context, r *run, steps []Step, prefix string) {
	for i, step := range steps {
		if ctx.Err() != nil {
			return
		}
		path := prefix + strconv.Itoa(i)
		switch {
		case step.Command != nil:
			e.command(ctx, r, path, step.Command)
		case step.If != nil:
			holds, ok := e.check(ctx, r, path+".if", step.If.Condition)
			if !ok {
				continue
			}
			if !holds {
				r.exec.Skipped++
				continue
			}
			e.walk(ctx, r, step.If.Steps, path+".if.")
		case step.Notify != nil:
			e.notify(ctx, r, path, step.Notify)
		}
	}
}

func (e *Engine) command(ctx context.Context, r *run, path string, c *CommandStep) {
	if c.When != nil {
		holds, ok := e.check(ctx, r, path+".when", *c.When)
		if !ok {
			return
		}
		if !holds {
			r.exec.Skipped++
			e.logger.Debug("workflow step skipped by guard", "execution_id", r.exec.ID, "step", path)
			return
		}
	}

	err := actor.Send(e.sys, c.Target, device.Message{Command: &device.Command{
		IEEE:          c.IEEE,
		Action:        c.Action,
		Value:         c.Value,
		CorrelationID: r.exec.ID,
	}})
	if err != nil {
		e.abort(r, path, c.Target, err)
		return
	}
	r.exec.Sent++
}

// check evaluates a condition. ok is false when the query itself failed
// and the step was aborted.
func (e *Engine) check(ctx context.Context, r *run, path string, c Condition) (holds, ok bool) {
	state, err := actor.AskName(ctx, e.sys, c.Target, e.askTimeout,
		func(reply chan<- device.PowerState) device.Message {
			return device.Message{Query: &device.PowerQuery{IEEE: c.IEEE, Reply: reply}}
		})
	if err != nil {
		e.abort(r, path, c.Target, err)
		return false, false
	}
	return c.State.Holds(state), true
}

func (e *Engine) notify(ctx context.Context, r *run, path string, n *NotifyStep) {
	if e.notifier == nil {
		e.abort(r, path, "notify", errors.New("no notifier configured"))
		return
	}
	title := n.Title
	if title == "" {
		title = r.exec.Workflow
	}
	err := e.notifier.Notify(ctx, notify.Notification{Title: title, Message: n.Message, CorrelationID: r.exec.ID})
	if err != nil {
		e.abort(r, path, "notify", err)
		return
	}
	r.exec.Notified++
}

func (e *Engine) abort(r *run, path, target string, err error) {
	r.exec.Aborted++
	r.exec.Failures = append(r.exec.Failures, StepFailure{Path: path, Target: target, Error: err.Error()})

	level := e.logger.Warn
	if errors.Is(err, actor.ErrNotRegistered) {
		level = e.logger.Error
	}
	level("workflow step aborted",
		"workflow", r.exec.Workflow,
		"execution_id", r.exec.ID,
		"step", path,
		"target", target,
		"error", err,
	)
}
