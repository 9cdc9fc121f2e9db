// Package processing keeps track of the running pull request processing
// tasks.
//
// At most one task per pull request is active. Starting a task for a pull
// request cancels the one that is running for it and waits until it
// released its slot.
package processing

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/simplesurance/patchbot/internal/logfields"
)

const loggerName = "processing_index"

// Causes of slot cancellations, they can be retrieved via context.Cause()
// from the slot context.
var (
	ErrSuperseded        = errors.New("superseded by a newer processing task for the pull request")
	ErrPullRequestClosed = errors.New("pull request was closed")
	ErrRepositoryRemoved = errors.New("app was removed from the repository")
	ErrShutdown          = errors.New("processing index was closed")
)

// Index tracks one cancelable slot per pull request and all slots of a
// repository.
type Index struct {
	logger *zap.Logger

	ctx      context.Context
	cancelFn context.CancelCauseFunc

	mu     sync.Mutex
	slots  map[string]*Slot
	repos  map[int64]map[int64]struct{}
	closed bool
}

func NewIndex() *Index {
	ctx, cancelFn := context.WithCancelCause(context.Background())

	return &Index{
		logger:   zap.L().Named(loggerName),
		ctx:      ctx,
		cancelFn: cancelFn,
		slots:    map[string]*Slot{},
		repos:    map[int64]map[int64]struct{}{},
	}
}

func slotKey(repoID, prID int64) string {
	return fmt.Sprintf("%d:%d", repoID, prID)
}

// Start registers a new slot for the pull request.
// If a slot for the pull request exists, it is canceled and Start blocks
// until its owner and the owners of all slots it superseded that are still
// unreleased released them, or ctx is done.
// The returned slot must be released by the caller when the work finished.
// If the index was closed, the returned slot is already canceled.
func (idx *Index) Start(ctx context.Context, repoID, prID int64) *Slot {
	slotCtx, cancelFn := context.WithCancelCause(ctx)
	stopPropagation := context.AfterFunc(idx.ctx, func() {
		cancelFn(context.Cause(idx.ctx))
	})

	s := Slot{
		index:           idx,
		key:             slotKey(repoID, prID),
		repoID:          repoID,
		prID:            prID,
		ctx:             slotCtx,
		cancelFn:        cancelFn,
		stopPropagation: stopPropagation,
		done:            make(chan struct{}),
	}

	logger := idx.logger.With(logfields.RepositoryID(repoID), logfields.PullRequest(int(prID)))

	idx.mu.Lock()
	if idx.closed {
		idx.mu.Unlock()
		cancelFn(ErrShutdown)
		logger.Debug("processing index is closed, returning canceled slot",
			logfields.Event("processing_slot_rejected"))
		return &s
	}

	prior := idx.slots[s.key]
	if prior != nil {
		idx.removeLocked(prior)
		s.predecessors = append(unreleased(prior.predecessors), prior)
	}
	idx.slots[s.key] = &s
	prs, exists := idx.repos[repoID]
	if !exists {
		prs = map[int64]struct{}{}
		idx.repos[repoID] = prs
	}
	prs[prID] = struct{}{}
	metrics.slots.Set(float64(len(idx.slots)))
	idx.mu.Unlock()

	if prior == nil {
		logger.Debug("processing slot started", logfields.Event("processing_slot_started"))
		return &s
	}

	prior.cancelFn(ErrSuperseded)
	metrics.cancellations.WithLabelValues(cancelReasonSuperseded).Inc()
	runtime.Gosched()

	logger.Debug(
		"canceled running processing task, waiting for it to terminate",
		logfields.Event("processing_slot_superseded"),
	)

	for _, p := range s.predecessors {
		select {
		case <-p.done:
		case <-slotCtx.Done():
			return &s
		}
	}

	return &s
}

// unreleased returns the slots that were not released yet.
func unreleased(slots []*Slot) []*Slot {
	var result []*Slot

	for _, s := range slots {
		select {
		case <-s.done:
		default:
			result = append(result, s)
		}
	}

	return result
}

// removeLocked removes s from the index if it is registered.
// idx.mu must be held when calling it.
func (idx *Index) removeLocked(s *Slot) bool {
	if cur := idx.slots[s.key]; cur != s {
		return false
	}

	delete(idx.slots, s.key)

	if prs, exists := idx.repos[s.repoID]; exists {
		delete(prs, s.prID)
		if len(prs) == 0 {
			delete(idx.repos, s.repoID)
		}
	}

	metrics.slots.Set(float64(len(idx.slots)))

	return true
}

// StopForPR cancels the slot of the pull request.
// If no slot exists for it, nothing happens.
func (idx *Index) StopForPR(repoID, prID int64) {
	idx.mu.Lock()
	s := idx.slots[slotKey(repoID, prID)]
	if s != nil {
		idx.removeLocked(s)
	}
	idx.mu.Unlock()

	if s == nil {
		return
	}

	s.cancelFn(ErrPullRequestClosed)
	metrics.cancellations.WithLabelValues(cancelReasonPRClosed).Inc()

	idx.logger.Debug(
		"canceled processing task",
		logfields.Event("processing_slot_stopped"),
		logfields.RepositoryID(repoID),
		logfields.PullRequest(int(prID)),
	)

	// give the canceled task the chance to run its cleanup
	runtime.Gosched()
}

// ClearForRepo cancels all slots of the repository.
func (idx *Index) ClearForRepo(repoID int64) {
	var canceled []*Slot

	idx.mu.Lock()
	for prID := range idx.repos[repoID] {
		if s := idx.slots[slotKey(repoID, prID)]; s != nil {
			canceled = append(canceled, s)
		}
	}
	for _, s := range canceled {
		idx.removeLocked(s)
	}
	delete(idx.repos, repoID)
	idx.mu.Unlock()

	if len(canceled) == 0 {
		return
	}

	for _, s := range canceled {
		s.cancelFn(ErrRepositoryRemoved)
	}
	metrics.cancellations.WithLabelValues(cancelReasonRepoRemoved).Add(float64(len(canceled)))

	idx.logger.Info(
		"canceled all processing tasks of repository",
		logfields.Event("processing_slots_cleared_for_repo"),
		logfields.RepositoryID(repoID),
		zap.Int("canceled_tasks", len(canceled)),
	)

	runtime.Gosched()
}

// Close cancels all slots.
// Slots that are started afterwards are returned canceled.
func (idx *Index) Close() {
	idx.mu.Lock()
	idx.closed = true
	canceled := len(idx.slots)
	idx.slots = map[string]*Slot{}
	idx.repos = map[int64]map[int64]struct{}{}
	metrics.slots.Set(0)
	idx.mu.Unlock()

	// the slot contexts are canceled via the AfterFunc registered in Start
	idx.cancelFn(ErrShutdown)
	metrics.cancellations.WithLabelValues(cancelReasonShutdown).Add(float64(canceled))

	idx.logger.Debug(
		"processing index closed",
		logfields.Event("processing_index_closed"),
		zap.Int("canceled_tasks", canceled),
	)

	runtime.Gosched()
}

// Len returns the number of registered slots.
func (idx *Index) Len() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	return len(idx.slots)
}

// Slot is the cancelable handle of a running processing task.
type Slot struct {
	index  *Index
	key    string
	repoID int64
	prID   int64

	ctx             context.Context
	cancelFn        context.CancelCauseFunc
	stopPropagation func() bool

	// predecessors are the superseded slots of the same pull request that
	// were unreleased when the slot was started, oldest first.
	// It is set before the slot is registered and not modified afterwards.
	predecessors []*Slot

	releaseOnce sync.Once
	done        chan struct{}
}

// Context returns the context the processing task must run with.
// It is canceled when the slot is superseded, stopped, or released.
func (s *Slot) Context() context.Context {
	return s.ctx
}

// Release removes the slot from the index, if it was not removed by a
// cancellation before, and cancels its context.
// It can be called multiple times.
func (s *Slot) Release() {
	s.releaseOnce.Do(func() {
		s.index.mu.Lock()
		s.index.removeLocked(s)
		s.index.mu.Unlock()

		s.cancelFn(context.Canceled)
		s.stopPropagation()
		close(s.done)
	})
}

// Done returns a channel that is closed when the slot was released.
func (s *Slot) Done() <-chan struct{} {
	return s.done
}
