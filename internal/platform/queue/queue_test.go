package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/healthflow/healthflow/pkg/rxmodel"
)

func TestDequeueOrdering(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue([]byte("low"), rxmodel.FormatHL7V2, 0)
	q.Enqueue([]byte("high"), rxmodel.FormatHL7V2, 10)
	q.Enqueue([]byte("mid"), rxmodel.FormatFHIR, 5)

	var got []string
	for msg := q.Dequeue(); msg != nil; msg = q.Dequeue() {
		got = append(got, string(msg.RawPayload))
	}
	want := []string{"high", "mid", "low"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestFIFOWithinPriorityTier(t *testing.T) {
	q := NewMessageQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue([]byte(fmt.Sprintf("msg-%d", i)), rxmodel.FormatHL7V2, 3)
	}
	for i := 0; i < 5; i++ {
		msg := q.Dequeue()
		if want := fmt.Sprintf("msg-%d", i); string(msg.RawPayload) != want {
			t.Fatalf("position %d = %s, want %s", i, msg.RawPayload, want)
		}
	}
}

func TestDequeueEmpty(t *testing.T) {
	if msg := NewMessageQueue().Dequeue(); msg != nil {
		t.Fatalf("expected nil, got %+v", msg)
	}
}

func TestStatusTransitions(t *testing.T) {
	q := NewMessageQueue()
	id := q.Enqueue([]byte("x"), rxmodel.FormatNCPDP, 1)

	msg := q.Dequeue()
	if msg.Status != StatusProcessing {
		t.Errorf("status after dequeue = %q", msg.Status)
	}
	if msg.QueueID != id {
		t.Errorf("queue ID = %q, want %q", msg.QueueID, id)
	}

	q.MarkProcessed(id, false, "parse failed")
	if msg.Status != StatusError || msg.ErrorMessage != "parse failed" {
		t.Errorf("after MarkProcessed: %+v", msg)
	}

	stats := q.Stats()
	if stats.TotalProcessed != 1 || stats.ErrorCount != 1 || stats.Pending != 0 || stats.Processing != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	q := NewMessageQueue()
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue([]byte("payload"), rxmodel.FormatHL7V2, i%5)
		}(i)
	}
	wg.Wait()

	var mu sync.Mutex
	seen := map[string]bool{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				msg := q.Dequeue()
				if msg == nil {
					return
				}
				mu.Lock()
				if seen[msg.QueueID] {
					t.Errorf("message %s dequeued twice", msg.QueueID)
				}
				seen[msg.QueueID] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("dequeued %d messages, want %d", len(seen), n)
	}
}

func TestDrain(t *testing.T) {
	q := NewMessageQueue()
	q.Enqueue([]byte("ok"), rxmodel.FormatHL7V2, 1)
	q.Enqueue([]byte("fail"), rxmodel.FormatHL7V2, 1)

	err := q.Drain(context.Background(), 2, 0, func(ctx context.Context, msg *QueuedMessage) error {
		if string(msg.RawPayload) == "fail" {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	stats := q.Stats()
	if stats.SuccessCount != 1 || stats.ErrorCount != 1 || stats.Pending != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestDrainHonorsLimit(t *testing.T) {
	q := NewMessageQueue()
	for i := 0; i < 5; i++ {
		q.Enqueue([]byte("x"), rxmodel.FormatJSON, 0)
	}

	err := q.Drain(context.Background(), 2, 2, func(ctx context.Context, msg *QueuedMessage) error {
		return nil
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if stats := q.Stats(); stats.Pending != 3 || stats.TotalProcessed != 2 {
		t.Errorf("stats = %+v", stats)
	}
}
