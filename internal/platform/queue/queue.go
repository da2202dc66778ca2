// Package queue provides the priority-ordered staging area for inbound wire
// payloads awaiting parse-and-submit. Ordering is strictly by descending
// priority with FIFO within a priority tier; enqueue and dequeue are safe for
// concurrent producers and consumers.
package queue

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/healthflow/healthflow/pkg/rxmodel"
)

// MessageStatus is the lifecycle status of a queued message.
type MessageStatus string

const (
	StatusPending    MessageStatus = "PENDING"
	StatusProcessing MessageStatus = "PROCESSING"
	StatusSuccess    MessageStatus = "SUCCESS"
	StatusError      MessageStatus = "ERROR"
)

// QueuedMessage is one staged inbound payload.
type QueuedMessage struct {
	QueueID      string
	RawPayload   []byte
	Format       rxmodel.SourceFormat
	Priority     int
	Status       MessageStatus
	QueuedAt     time.Time
	DequeuedAt   time.Time
	ProcessedAt  time.Time
	ErrorMessage string

	seq int // arrival order, breaks priority ties
}

// Stats summarizes queue state.
type Stats struct {
	Pending        int `json:"pending"`
	Processing     int `json:"processing"`
	TotalProcessed int `json:"total_processed"`
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
}

// MessageQueue is an in-memory priority queue of inbound messages.
type MessageQueue struct {
	mu        sync.Mutex
	heap      messageHeap
	inFlight  map[string]*QueuedMessage
	processed []*QueuedMessage
	nextSeq   int
}

// NewMessageQueue creates an empty queue.
func NewMessageQueue() *MessageQueue {
	return &MessageQueue{inFlight: make(map[string]*QueuedMessage)}
}

// Enqueue stages a payload and returns its queue ID. Higher priority values
// dequeue first.
func (q *MessageQueue) Enqueue(raw []byte, format rxmodel.SourceFormat, priority int) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg := &QueuedMessage{
		QueueID:    "Q-" + uuid.NewString(),
		RawPayload: raw,
		Format:     format,
		Priority:   priority,
		Status:     StatusPending,
		QueuedAt:   time.Now().UTC(),
		seq:        q.nextSeq,
	}
	q.nextSeq++
	heap.Push(&q.heap, msg)
	return msg.QueueID
}

// Dequeue atomically pops the highest-priority pending message and marks it
// PROCESSING. It returns nil when the queue is empty.
func (q *MessageQueue) Dequeue() *QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.heap.Len() == 0 {
		return nil
	}
	msg := heap.Pop(&q.heap).(*QueuedMessage)
	msg.Status = StatusProcessing
	msg.DequeuedAt = time.Now().UTC()
	q.inFlight[msg.QueueID] = msg
	return msg
}

// MarkProcessed records the outcome of a dequeued message.
func (q *MessageQueue) MarkProcessed(queueID string, success bool, errMessage string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	msg, ok := q.inFlight[queueID]
	if !ok {
		return
	}
	delete(q.inFlight, queueID)
	if success {
		msg.Status = StatusSuccess
	} else {
		msg.Status = StatusError
		msg.ErrorMessage = errMessage
	}
	msg.ProcessedAt = time.Now().UTC()
	q.processed = append(q.processed, msg)
}

// Stats returns a snapshot of queue counters.
func (q *MessageQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		Pending:        q.heap.Len(),
		Processing:     len(q.inFlight),
		TotalProcessed: len(q.processed),
	}
	for _, m := range q.processed {
		if m.Status == StatusSuccess {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
	}
	return s
}

// Drain dequeues up to limit messages (all pending when limit <= 0) and runs
// fn for each on a bounded worker pool. Each message is marked processed from
// its fn outcome.
func (q *MessageQueue) Drain(ctx context.Context, workers int, limit int, fn func(context.Context, *QueuedMessage) error) error {
	if workers <= 0 {
		workers = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	taken := 0
	for limit <= 0 || taken < limit {
		msg := q.Dequeue()
		if msg == nil {
			break
		}
		taken++
		g.Go(func() error {
			if err := fn(ctx, msg); err != nil {
				q.MarkProcessed(msg.QueueID, false, err.Error())
				return nil // a failed message does not abort the drain
			}
			q.MarkProcessed(msg.QueueID, true, "")
			return nil
		})
	}
	return g.Wait()
}

// messageHeap orders by descending priority, then arrival order.
type messageHeap []*QueuedMessage

func (h messageHeap) Len() int { return len(h) }

func (h messageHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h messageHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *messageHeap) Push(x interface{}) { *h = append(*h, x.(*QueuedMessage)) }

func (h *messageHeap) Pop() interface{} {
	old := *h
	n := len(old)
	msg := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return msg
}
