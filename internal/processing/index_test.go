package processing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))

	idx := NewIndex()
	t.Cleanup(idx.Close)

	return idx
}

// releaseOnCancel releases the slot when it is canceled, like a processing
// task does when it terminates.
func releaseOnCancel(s *Slot) {
	go func() {
		<-s.Context().Done()
		s.Release()
	}()
}

func TestStartSupersedesPriorSlots(t *testing.T) {
	idx := newTestIndex(t)

	var slots []*Slot
	for i := 0; i < 5; i++ {
		s := idx.Start(context.Background(), 1, 10)
		for _, prior := range slots {
			require.Error(t, prior.Context().Err(), "prior slot was not canceled before Start returned")
			assert.ErrorIs(t, context.Cause(prior.Context()), ErrSuperseded)

			select {
			case <-prior.Done():
			default:
				t.Fatal("prior slot was not released before Start returned")
			}
		}

		require.NoError(t, s.Context().Err())
		releaseOnCancel(s)
		slots = append(slots, s)
	}

	assert.Equal(t, 1, idx.Len())

	last := slots[len(slots)-1]
	last.Release()
	assert.Equal(t, 0, idx.Len())
}

func TestStartBlocksUntilPriorSlotIsReleased(t *testing.T) {
	idx := newTestIndex(t)

	first := idx.Start(context.Background(), 1, 10)

	started := make(chan *Slot, 1)
	go func() {
		started <- idx.Start(context.Background(), 1, 10)
	}()

	require.Eventually(t, func() bool {
		return first.Context().Err() != nil
	}, 5*time.Second, time.Millisecond)

	select {
	case <-started:
		t.Fatal("Start returned before the prior slot was released")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	var second *Slot
	select {
	case second = <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after prior slot was released")
	}

	require.NoError(t, second.Context().Err())
	assert.Equal(t, 1, idx.Len())
	second.Release()
}

func TestStartWaitsForAllSupersededSlots(t *testing.T) {
	idx := newTestIndex(t)

	first := idx.Start(context.Background(), 1, 10)

	secondStarted := make(chan *Slot, 1)
	go func() {
		s := idx.Start(context.Background(), 1, 10)
		releaseOnCancel(s)
		secondStarted <- s
	}()

	require.Eventually(t, func() bool {
		return first.Context().Err() != nil
	}, 5*time.Second, time.Millisecond)

	// the second Start is waiting for first, its slot is registered
	// already and is superseded by the third one
	require.Eventually(t, func() bool {
		idx.mu.Lock()
		defer idx.mu.Unlock()
		return idx.slots[slotKey(1, 10)] != first
	}, 5*time.Second, time.Millisecond)

	thirdStarted := make(chan *Slot, 1)
	go func() {
		thirdStarted <- idx.Start(context.Background(), 1, 10)
	}()

	var second *Slot
	select {
	case second = <-secondStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("superseded Start did not return")
	}
	assert.ErrorIs(t, context.Cause(second.Context()), ErrSuperseded)

	select {
	case <-second.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("second slot was not released")
	}

	select {
	case <-thirdStarted:
		t.Fatal("Start returned while the first superseded slot was unreleased")
	case <-time.After(50 * time.Millisecond):
	}

	first.Release()

	var third *Slot
	select {
	case third = <-thirdStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after all superseded slots were released")
	}

	require.NoError(t, third.Context().Err())
	assert.Equal(t, 1, idx.Len())
	third.Release()
}

func TestStartReturnsWhenCtxIsCanceledWhileWaiting(t *testing.T) {
	idx := newTestIndex(t)

	first := idx.Start(context.Background(), 1, 10)
	defer first.Release()

	ctx, cancelFn := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelFn()

	second := idx.Start(ctx, 1, 10)
	assert.Error(t, second.Context().Err())
	second.Release()
}

func TestReleaseOfSupersededSlotKeepsNewSlot(t *testing.T) {
	idx := newTestIndex(t)

	first := idx.Start(context.Background(), 1, 10)
	releaseOnCancel(first)

	second := idx.Start(context.Background(), 1, 10)
	first.Release()

	assert.Equal(t, 1, idx.Len())
	assert.NoError(t, second.Context().Err())
	second.Release()
}

func TestStopForPRWithoutSlotIsNoop(t *testing.T) {
	idx := newTestIndex(t)

	other := idx.Start(context.Background(), 1, 11)
	defer other.Release()

	idx.StopForPR(1, 10)
	idx.StopForPR(2, 10)

	assert.NoError(t, other.Context().Err())
	assert.Equal(t, 1, idx.Len())
}

func TestStopForPRCancelsSlot(t *testing.T) {
	idx := newTestIndex(t)

	s := idx.Start(context.Background(), 1, 10)
	defer s.Release()
	other := idx.Start(context.Background(), 1, 11)
	defer other.Release()

	idx.StopForPR(1, 10)

	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
	assert.ErrorIs(t, context.Cause(s.Context()), ErrPullRequestClosed)
	assert.NoError(t, other.Context().Err())
	assert.Equal(t, 1, idx.Len())
}

func TestClearForRepoCancelsOnlySlotsOfRepo(t *testing.T) {
	idx := newTestIndex(t)

	repo1PR1 := idx.Start(context.Background(), 1, 10)
	defer repo1PR1.Release()
	repo1PR2 := idx.Start(context.Background(), 1, 11)
	defer repo1PR2.Release()
	repo2PR1 := idx.Start(context.Background(), 2, 10)
	defer repo2PR1.Release()

	idx.ClearForRepo(1)

	assert.ErrorIs(t, context.Cause(repo1PR1.Context()), ErrRepositoryRemoved)
	assert.ErrorIs(t, context.Cause(repo1PR2.Context()), ErrRepositoryRemoved)
	assert.NoError(t, repo2PR1.Context().Err())
	assert.Equal(t, 1, idx.Len())

	idx.ClearForRepo(3)
	assert.NoError(t, repo2PR1.Context().Err())
}

func TestCloseCancelsAllSlots(t *testing.T) {
	t.Cleanup(zap.ReplaceGlobals(zaptest.NewLogger(t).Named(t.Name())))
	idx := NewIndex()

	s1 := idx.Start(context.Background(), 1, 10)
	defer s1.Release()
	s2 := idx.Start(context.Background(), 2, 20)
	defer s2.Release()

	idx.Close()

	require.Eventually(t, func() bool {
		return s1.Context().Err() != nil && s2.Context().Err() != nil
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, context.Cause(s1.Context()), ErrShutdown)
	assert.Equal(t, 0, idx.Len())

	s3 := idx.Start(context.Background(), 3, 30)
	assert.Error(t, s3.Context().Err())
	s3.Release()
}

func TestSlotIsCanceledWhenParentCtxIsCanceled(t *testing.T) {
	idx := newTestIndex(t)

	ctx, cancelFn := context.WithCancel(context.Background())
	s := idx.Start(ctx, 1, 10)
	defer s.Release()

	cancelFn()
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)
}
