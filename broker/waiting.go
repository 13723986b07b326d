package broker

import (
	"github.com/jobmq/jobmq/protocol"

	log "github.com/sirupsen/logrus"
)

// WaitingBuffer holds per-queue bounded FIFOs of raw inbound request frames
// that arrived while no worker was available. Entries keep the original
// client identity prefix so a later forward behaves as if the request had
// just arrived. A queue appears in the buffer only while its FIFO is
// non-empty.
type WaitingBuffer struct {
	hwm    int
	queues map[string][][]string
}

// NewWaitingBuffer creates a buffer bounded at hwm entries per queue.
func NewWaitingBuffer(hwm int) *WaitingBuffer {
	return &WaitingBuffer{
		hwm:    hwm,
		queues: make(map[string][][]string),
	}
}

// Enqueue appends raw frames to a queue's FIFO. At the high-water mark the
// message is rejected with ErrBufferFull.
func (b *WaitingBuffer) Enqueue(queue string, frames []string) error {
	if len(b.queues[queue]) >= b.hwm {
		return protocol.ErrBufferFull
	}

	b.queues[queue] = append(b.queues[queue], frames)

	log.WithFields(log.Fields{
		"queue":   queue,
		"waiting": len(b.queues[queue]),
	}).Debug("buffered message")

	return nil
}

// PopFront removes and returns the oldest buffered frames for a queue. The
// queue entry disappears when its FIFO empties.
func (b *WaitingBuffer) PopFront(queue string) ([]string, bool) {
	fifo, ok := b.queues[queue]
	if !ok {
		return nil, false
	}

	frames := fifo[0]
	if len(fifo) == 1 {
		delete(b.queues, queue)
	} else {
		b.queues[queue] = fifo[1:]
	}

	return frames, true
}

// pushFront returns frames to the head of a queue's FIFO, used when a
// forward fails after the pop and ordering must be preserved.
func (b *WaitingBuffer) pushFront(queue string, frames []string) {
	b.queues[queue] = append([][]string{frames}, b.queues[queue]...)
}

// Len returns the number of buffered messages for a queue.
func (b *WaitingBuffer) Len(queue string) int {
	return len(b.queues[queue])
}

// Has reports whether a queue currently has buffered messages.
func (b *WaitingBuffer) Has(queue string) bool {
	_, ok := b.queues[queue]
	return ok
}
