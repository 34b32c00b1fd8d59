package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSourceBuffer mimics the single-updater sink: Execute marks it
// updating, and the test fires the update-end signal explicitly.
type fakeSourceBuffer struct {
	updating bool
}

func (b *fakeSourceBuffer) Updating() bool { return b.updating }

func TestAppendExecutesImmediatelyWhenIdle(t *testing.T) {
	queue := NewQueue(nil)
	queue.AttachBuffer(KindVideo, &fakeSourceBuffer{})

	executed := false
	queue.Append(&Operation{
		Execute:    func() error { executed = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindVideo)

	assert.True(t, executed)
	assert.Equal(t, 1, queue.Len(KindVideo))
}

func TestAppendWithoutBufferStaysPending(t *testing.T) {
	queue := NewQueue(nil)

	executed := false
	queue.Append(&Operation{
		Execute:    func() error { executed = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindAudio)

	assert.False(t, executed)
	assert.Equal(t, 1, queue.Len(KindAudio))

	// Attaching the buffer kicks off the pending head
	queue.AttachBuffer(KindAudio, &fakeSourceBuffer{})
	assert.True(t, executed)
}

func TestFIFOOrderAcrossUpdateEnds(t *testing.T) {
	queue := NewQueue(nil)
	sb := &fakeSourceBuffer{}
	queue.AttachBuffer(KindVideo, sb)

	var completed []string
	enqueue := func(name string) {
		queue.Append(&Operation{
			Execute:    func() error { sb.updating = true; return nil },
			OnComplete: func() { completed = append(completed, name) },
			OnError:    func(error) {},
		}, KindVideo)
	}

	enqueue("a")
	enqueue("b")
	enqueue("c")

	// The external update-end observer completes the head and advances
	for i := 0; i < 3; i++ {
		op := queue.Current(KindVideo)
		require.NotNil(t, op)
		sb.updating = false
		op.OnComplete()
		queue.ShiftAndExecuteNext(KindVideo)
	}

	assert.Equal(t, []string{"a", "b", "c"}, completed)
	assert.Equal(t, 0, queue.Len(KindVideo))
}

func TestAtMostOneInFlight(t *testing.T) {
	queue := NewQueue(nil)
	sb := &fakeSourceBuffer{}
	queue.AttachBuffer(KindAudio, sb)

	executions := 0
	for i := 0; i < 3; i++ {
		queue.Append(&Operation{
			Execute:    func() error { executions++; sb.updating = true; return nil },
			OnComplete: func() {},
			OnError:    func(error) {},
		}, KindAudio)
	}

	// Only the head may have been dispatched
	assert.Equal(t, 1, executions)

	sb.updating = false
	queue.ShiftAndExecuteNext(KindAudio)
	assert.Equal(t, 2, executions)
}

func TestSynchronousFailureWithIdleBufferAdvances(t *testing.T) {
	queue := NewQueue(nil)
	sb := &fakeSourceBuffer{}
	queue.AttachBuffer(KindVideo, sb)

	var failed error
	bExecuted := false

	// A first op occupies the head; once it completes, op A fails
	// synchronously while the buffer is idle and the queue itself must
	// advance to op B
	queue.Append(&Operation{
		Execute:    func() error { sb.updating = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindVideo)
	queue.Append(&Operation{
		Execute:    func() error { return errors.New("append failed") },
		OnComplete: func() {},
		OnError:    func(err error) { failed = err },
	}, KindVideo)
	queue.Append(&Operation{
		Execute:    func() error { bExecuted = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindVideo)

	sb.updating = false
	queue.ShiftAndExecuteNext(KindVideo)

	require.Error(t, failed)
	assert.True(t, bExecuted)
	// The failing op was popped; its successor executed and now awaits its
	// own update-end
	assert.Equal(t, 1, queue.Len(KindVideo))
}

func TestSynchronousFailureWhileUpdatingDoesNotAdvance(t *testing.T) {
	queue := NewQueue(nil)
	sb := &fakeSourceBuffer{updating: true}
	queue.AttachBuffer(KindVideo, sb)

	var failed error
	nextExecuted := false

	queue.Append(&Operation{
		Execute:    func() error { return errors.New("append failed mid-update") },
		OnComplete: func() {},
		OnError:    func(err error) { failed = err },
	}, KindVideo)
	queue.Append(&Operation{
		Execute:    func() error { nextExecuted = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindVideo)

	require.Error(t, failed)
	// The pending update-end owns the advance; the queue must not race it
	assert.False(t, nextExecuted)
	assert.Equal(t, 2, queue.Len(KindVideo))
}

func TestAppendBlocker(t *testing.T) {
	queue := NewQueue(nil)
	sb := &fakeSourceBuffer{}
	queue.AttachBuffer(KindAudio, sb)

	// In-flight append ahead of the blocker
	queue.Append(&Operation{
		Execute:    func() error { sb.updating = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindAudio)

	unblocked := queue.AppendBlocker(KindAudio)
	select {
	case <-unblocked:
		t.Fatal("blocker resolved before prior operation completed")
	default:
	}

	sb.updating = false
	queue.ShiftAndExecuteNext(KindAudio)

	select {
	case <-unblocked:
	default:
		t.Fatal("blocker did not resolve after reaching the head")
	}
}

func TestIndependentTracks(t *testing.T) {
	queue := NewQueue(nil)
	audioSB := &fakeSourceBuffer{}
	queue.AttachBuffer(KindAudio, audioSB)

	audioExecuted := false
	queue.Append(&Operation{
		Execute:    func() error { audioExecuted = true; return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindAudio)
	queue.Append(&Operation{
		Execute:    func() error { t.Fatal("video must not execute without a buffer"); return nil },
		OnComplete: func() {},
		OnError:    func(error) {},
	}, KindVideo)

	assert.True(t, audioExecuted)
	assert.Equal(t, 1, queue.Len(KindVideo))
}
