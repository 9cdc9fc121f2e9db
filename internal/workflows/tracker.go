package workflows

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
)

// Workflow is a completed workflow run.
type Workflow struct {
	Name  string
	RunID int64
}

// Tracker waits for workflow runs of a commit to complete.
//
// Only workflows with the names set via FilterNames are tracked.
// If none of them is reported as running within the discovery timeout,
// the iteration ends. After one was reported as running, Next waits
// without a time limit.
type Tracker struct {
	dispatch *Dispatch
	key      key
	listener *listener
	timeout  time.Duration
	logger   *zap.Logger

	filter []string

	started  bool
	finished bool
	deadline time.Time
	// waitingOn maps the names of the workflows that did not complete
	// yet to whether they were reported as running
	waitingOn map[string]bool

	closeOnce sync.Once
}

// FilterNames sets the names of the workflows to wait for, replacing
// previously set names.
// It has no effect after Next was called.
func (t *Tracker) FilterNames(names ...string) *Tracker {
	if t.started {
		t.logger.Warn(
			"ignoring workflow name filter, iteration already started",
			logfields.Event("workflow_tracker_filter_ignored"),
		)
		return t
	}

	t.filter = append([]string(nil), names...)
	return t
}

func (t *Tracker) start() {
	t.started = true
	t.deadline = time.Now().Add(t.timeout)
	t.waitingOn = make(map[string]bool, len(t.filter))

	for _, name := range t.filter {
		t.waitingOn[name] = false
	}
}

func (t *Tracker) anyRunning() bool {
	for _, running := range t.waitingOn {
		if running {
			return true
		}
	}

	return false
}

func (t *Tracker) finish(reason string) {
	t.finished = true

	if len(t.waitingOn) > 0 {
		names := make([]string, 0, len(t.waitingOn))
		for name := range t.waitingOn {
			names = append(names, name)
		}

		t.logger.Info(
			"stopped waiting for workflows",
			logfields.Event("workflow_tracker_finished"),
			zap.String("reason", reason),
			zap.Strings("incomplete_workflows", names),
		)

		return
	}

	t.logger.Debug(
		"all tracked workflows completed",
		logfields.Event("workflow_tracker_finished"),
		zap.String("reason", reason),
	)
}

// Next returns the next completed workflow.
// When the iteration finished, nil is returned for the workflow and the
// error.
// If ctx is canceled, ctx.Err() is returned.
func (t *Tracker) Next(ctx context.Context) (*Workflow, error) {
	if t.finished {
		return nil, nil
	}

	if !t.started {
		t.start()
	}

	for {
		if len(t.waitingOn) == 0 {
			t.finish("all_completed")
			return nil, nil
		}

		var timer *time.Timer
		var timeoutCh <-chan time.Time

		if !t.anyRunning() {
			remaining := time.Until(t.deadline)
			if remaining <= 0 {
				t.finish("discovery_timeout")
				return nil, nil
			}

			timer = time.NewTimer(remaining)
			timeoutCh = timer.C
		}

		var ev Event
		var ok bool

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return nil, ctx.Err()

		case <-timeoutCh:
			t.finish("discovery_timeout")
			return nil, nil

		case ev, ok = <-t.listener.ch:
			stopTimer(timer)
		}

		if !ok {
			t.finish("listener_closed")
			return nil, nil
		}

		if _, exists := t.waitingOn[ev.Name]; !exists {
			continue
		}

		if ev.Action == ActionCompleted {
			delete(t.waitingOn, ev.Name)

			t.logger.Debug(
				"tracked workflow completed",
				logfields.Event("workflow_completed"),
				logfields.WorkflowName(ev.Name),
				logfields.WorkflowRunID(ev.RunID),
			)

			return &Workflow{Name: ev.Name, RunID: ev.RunID}, nil
		}

		t.waitingOn[ev.Name] = true
	}
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

// Close unregisters the listener of the Tracker.
// Events for the commit that arrive afterwards are discarded.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		t.dispatch.unregister(t.key, t.listener)
	})
}
