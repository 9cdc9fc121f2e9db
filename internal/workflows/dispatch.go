// Package workflows correlates workflow_run webhook events with the pull
// request processing tasks that wait for them.
package workflows

import (
	"sync"
	"time"

	"github.com/google/go-github/v59/github"
	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
)

const loggerName = "workflow_dispatch"

const (
	DefDiscoveryTimeout   = 5 * time.Second
	DefListenerBufferSize = 1024
)

type Action string

const (
	ActionRequested  Action = "requested"
	ActionInProgress Action = "in_progress"
	ActionCompleted  Action = "completed"
)

func parseAction(s string) (Action, bool) {
	switch a := Action(s); a {
	case ActionRequested, ActionInProgress, ActionCompleted:
		return a, true
	default:
		return "", false
	}
}

// Event is a state change of a workflow run.
type Event struct {
	RunID  int64
	Name   string
	Action Action
}

// key identifies the commit a workflow run was triggered for.
type key struct {
	repoID     int64
	headRepoID int64
	headSHA    string
}

type listener struct {
	ch chan Event
}

// Dispatch routes workflow run events to the registered Trackers.
type Dispatch struct {
	logger           *zap.Logger
	discoveryTimeout time.Duration
	bufSize          int

	mu        sync.Mutex
	listeners map[key]map[*listener]struct{}
	count     int
}

type Option func(*Dispatch)

// WithDiscoveryTimeout sets the time a Tracker waits for the first
// workflow of its filter to be reported as running.
func WithDiscoveryTimeout(d time.Duration) Option {
	return func(disp *Dispatch) {
		disp.discoveryTimeout = d
	}
}

// WithListenerBufferSize sets how many events are buffered per Tracker.
// When the buffer is full, further events for the Tracker are dropped.
func WithListenerBufferSize(size int) Option {
	return func(disp *Dispatch) {
		disp.bufSize = size
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(disp *Dispatch) {
		disp.logger = logger.Named(loggerName)
	}
}

func NewDispatch(opts ...Option) *Dispatch {
	d := Dispatch{
		logger:           zap.L().Named(loggerName),
		discoveryTimeout: DefDiscoveryTimeout,
		bufSize:          DefListenerBufferSize,
		listeners:        map[key]map[*listener]struct{}{},
	}

	for _, opt := range opts {
		opt(&d)
	}

	return &d
}

// ConsumeEvent forwards a workflow_run webhook event to all Trackers that
// are registered for the commit it ran on.
// If no Tracker is registered, the event is discarded.
// ConsumeEvent never blocks.
func (d *Dispatch) ConsumeEvent(ev *github.WorkflowRunEvent) {
	run := ev.GetWorkflowRun()

	logger := d.logger.With(
		logfields.RepositoryID(ev.GetRepo().GetID()),
		logfields.HeadRepositoryID(run.GetHeadRepository().GetID()),
		logfields.Commit(run.GetHeadSHA()),
		logfields.WorkflowRunID(run.GetID()),
		logfields.WorkflowName(run.GetName()),
	)

	action, ok := parseAction(ev.GetAction())
	if !ok {
		logger.Debug(
			"ignoring workflow run event with unsupported action",
			logfields.Event("workflow_event_action_unsupported"),
			zap.String("github.action", ev.GetAction()),
		)
		metrics.events.WithLabelValues(eventResultIgnored).Inc()
		return
	}

	d.publish(
		key{
			repoID:     ev.GetRepo().GetID(),
			headRepoID: run.GetHeadRepository().GetID(),
			headSHA:    run.GetHeadSHA(),
		},
		Event{RunID: run.GetID(), Name: run.GetName(), Action: action},
		logger,
	)
}

func (d *Dispatch) publish(k key, ev Event, logger *zap.Logger) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls := d.listeners[k]
	if len(ls) == 0 {
		logger.Debug(
			"discarding workflow run event, no listener registered for commit",
			logfields.Event("workflow_event_discarded"),
		)
		metrics.events.WithLabelValues(eventResultIgnored).Inc()
		return
	}

	for l := range ls {
		select {
		case l.ch <- ev:
			logger.Debug(
				"workflow run event forwarded to listener",
				logfields.Event("workflow_event_forwarded"),
				zap.String("github.action", string(ev.Action)),
				zap.Int("listeners", len(ls)),
			)
			metrics.events.WithLabelValues(eventResultForwarded).Inc()

		default:
			logger.Warn(
				"event lost, forwarding workflow run event to listener failed",
				zap.String("error", "could not forward event to channel, send would have blocked"),
				logfields.Event("workflow_event_dropped"),
				zap.String("github.action", string(ev.Action)),
			)
			metrics.events.WithLabelValues(eventResultDropped).Inc()
		}
	}
}

// TrackWorkflows registers a listener for workflow runs of the commit
// headSHA that was pushed to the repository headRepoID and runs in the
// repository repoID.
// Multiple listeners can be registered for the same commit, e.g. when pull
// requests in the same repository share their head branch. Each of them
// receives all events of the commit.
// The returned Tracker must be closed when it is not used anymore.
func (d *Dispatch) TrackWorkflows(repoID, headRepoID int64, headSHA string) *Tracker {
	k := key{repoID: repoID, headRepoID: headRepoID, headSHA: headSHA}
	l := listener{ch: make(chan Event, d.bufSize)}

	d.mu.Lock()
	ls, exists := d.listeners[k]
	if !exists {
		ls = map[*listener]struct{}{}
		d.listeners[k] = ls
	}
	ls[&l] = struct{}{}
	d.count++
	metrics.listeners.Set(float64(d.count))
	d.mu.Unlock()

	return &Tracker{
		dispatch: d,
		key:      k,
		listener: &l,
		timeout:  d.discoveryTimeout,
		logger: d.logger.With(
			logfields.RepositoryID(repoID),
			logfields.HeadRepositoryID(headRepoID),
			logfields.Commit(headSHA),
		),
	}
}

// unregister removes the listener and closes its channel.
// It must be called only once per listener.
func (d *Dispatch) unregister(k key, l *listener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ls := d.listeners[k]
	if _, exists := ls[l]; !exists {
		return
	}

	delete(ls, l)
	if len(ls) == 0 {
		delete(d.listeners, k)
	}
	d.count--
	metrics.listeners.Set(float64(d.count))

	close(l.ch)
}

// Len returns the number of registered listeners.
func (d *Dispatch) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.count
}
