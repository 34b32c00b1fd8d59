// Package buffer serializes append/remove operations against the media
// sink's source buffers. Each source buffer is a single-updater state
// machine; the queue guarantees at most one in-flight operation per buffer
// and FIFO completion order, so callers can issue appends without any
// coordination of their own.
package buffer

import (
	"sync"

	"github.com/RyanBlaney/hls-player-core/logging"
	"github.com/RyanBlaney/hls-player-core/player/telemetry"
)

// Kind names a source buffer track type
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// SourceBuffer is the queue's view of the underlying single-updater sink
// buffer. Updating reports whether an asynchronous operation is currently in
// flight on it.
type SourceBuffer interface {
	Updating() bool
}

// Operation is one unit of buffer work. Execute starts the operation and
// must eventually cause an update-end signal on the target buffer; the
// external observer of that signal calls ShiftAndExecuteNext. A synchronous
// failure is reported through Execute's return value. OnComplete and OnError
// are one-shot.
type Operation struct {
	Execute    func() error
	OnComplete func()
	OnError    func(err error)
}

// Queue is the per-track FIFO serializer. The zero value is not usable;
// construct with NewQueue.
type Queue struct {
	mu      sync.Mutex
	queues  map[Kind][]*Operation
	buffers map[Kind]SourceBuffer

	logger  logging.Logger
	metrics *telemetry.Metrics
}

// NewQueue creates an operation queue. Metrics may be nil.
func NewQueue(metrics *telemetry.Metrics) *Queue {
	return &Queue{
		queues: map[Kind][]*Operation{
			KindAudio: {},
			KindVideo: {},
		},
		buffers: make(map[Kind]SourceBuffer),
		logger: logging.WithFields(logging.Fields{
			"component": "buffer_operation_queue",
		}),
		metrics: metrics,
	}
}

// AttachBuffer installs the sink buffer for a track. Operations enqueued for
// a track without a buffer stay pending until one is attached.
func (q *Queue) AttachBuffer(kind Kind, sb SourceBuffer) {
	q.mu.Lock()
	q.buffers[kind] = sb
	pending := len(q.queues[kind]) > 0
	q.mu.Unlock()

	if pending {
		q.executeNext(kind)
	}
}

// Append enqueues an operation. If the queue was empty and the track's
// buffer exists, execution begins immediately.
func (q *Queue) Append(op *Operation, kind Kind) {
	q.mu.Lock()
	q.queues[kind] = append(q.queues[kind], op)
	begin := len(q.queues[kind]) == 1 && q.buffers[kind] != nil
	q.observeDepth(kind)
	q.mu.Unlock()

	if begin {
		q.executeNext(kind)
	}
}

// AppendBlocker enqueues a synthetic operation whose only effect is to close
// the returned channel when it reaches the head of the queue and executes.
// It serializes externally orchestrated work behind all in-flight buffer
// operations; the caller must call ShiftAndExecuteNext once its work is done.
func (q *Queue) AppendBlocker(kind Kind) <-chan struct{} {
	unblocked := make(chan struct{})
	q.Append(&Operation{
		Execute: func() error {
			close(unblocked)
			return nil
		},
		OnComplete: func() {},
		OnError:    func(error) {},
	}, kind)
	return unblocked
}

// ShiftAndExecuteNext pops the completed head operation and begins the next.
// It is called by the external observer of the buffer's update-end signal.
func (q *Queue) ShiftAndExecuteNext(kind Kind) {
	q.mu.Lock()
	q.shiftLocked(kind)
	q.mu.Unlock()

	q.executeNext(kind)
}

// Current returns the head operation, nil when the track queue is empty
func (q *Queue) Current(kind Kind) *Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if queue := q.queues[kind]; len(queue) > 0 {
		return queue[0]
	}
	return nil
}

// Len returns the number of pending operations for a track
func (q *Queue) Len(kind Kind) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[kind])
}

// executeNext starts the head operation. On a synchronous failure the error
// callback fires and, iff the sink buffer is not mid-update, the head is
// popped so the track cannot stall; when the buffer is updating, the pending
// update-end signal performs the advance instead.
func (q *Queue) executeNext(kind Kind) {
	q.mu.Lock()
	queue := q.queues[kind]
	if len(queue) == 0 {
		q.mu.Unlock()
		return
	}
	op := queue[0]
	sb := q.buffers[kind]
	q.mu.Unlock()

	err := op.Execute()
	if err == nil {
		return
	}

	q.logger.Warn("buffer operation failed synchronously", logging.Fields{
		"kind":  string(kind),
		"error": err.Error(),
	})
	if q.metrics != nil {
		q.metrics.BufferOpErrors.WithLabelValues(string(kind)).Inc()
	}
	op.OnError(err)

	if sb == nil || !sb.Updating() {
		q.mu.Lock()
		if queue := q.queues[kind]; len(queue) > 0 && queue[0] == op {
			q.shiftLocked(kind)
		}
		q.mu.Unlock()
		q.executeNext(kind)
	}
}

func (q *Queue) shiftLocked(kind Kind) {
	if queue := q.queues[kind]; len(queue) > 0 {
		q.queues[kind] = queue[1:]
	}
	q.observeDepth(kind)
}

func (q *Queue) observeDepth(kind Kind) {
	if q.metrics != nil {
		q.metrics.BufferQueueLen.WithLabelValues(string(kind)).Set(float64(len(q.queues[kind])))
	}
}
