package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
)

func testEvent() BoardEvent {
	return BoardEvent{
		EventType: EventElementsMerged,
		CanvasID:  "canvas-1",
		ActorID:   7,
		Applied:   2,
		At:        time.Now(),
	}
}

func TestDispatcher_DeliversEnqueuedEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	delivered := make(chan []byte, 1)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		delivered <- val
		return nil
	})

	d := NewDispatcher(producer, "board-events", nil, DispatcherOptions{QueueSize: 4, Workers: 1})
	if err := d.Enqueue(context.Background(), testEvent()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case body := <-delivered:
		if len(body) == 0 {
			t.Fatalf("empty event body")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never reached the producer")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcher_RetriesWithBackoffThenSucceeds(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(errors.New("broker down"))
	producer.ExpectSendMessageAndFail(errors.New("broker down"))
	delivered := make(chan struct{})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func([]byte) error {
		close(delivered)
		return nil
	})

	d := NewDispatcher(producer, "board-events", nil, DispatcherOptions{
		QueueSize:   4,
		Workers:     1,
		MaxRetry:    3,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	})
	if err := d.Enqueue(context.Background(), testEvent()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	select {
	case <-delivered:
	case <-time.After(2 * time.Second):
		t.Fatalf("event was not retried to success")
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcher_GivesUpAfterMaxRetry(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	attempts := make(chan struct{}, 8)
	for i := 0; i < 3; i++ {
		producer.ExpectSendMessageWithCheckerFunctionAndFail(func([]byte) error {
			attempts <- struct{}{}
			return nil
		}, errors.New("broker down"))
	}

	d := NewDispatcher(producer, "board-events", nil, DispatcherOptions{
		QueueSize:   4,
		Workers:     1,
		MaxRetry:    2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  time.Millisecond,
	})
	if err := d.Enqueue(context.Background(), testEvent()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d attempts, want 3", i)
		}
	}
	// Dropped after the final failure; no fourth send.
	select {
	case <-attempts:
		t.Fatalf("event was retried past maxRetry")
	case <-time.After(50 * time.Millisecond):
	}
	if err := producer.Close(); err != nil {
		t.Fatalf("producer expectations: %v", err)
	}
}

func TestDispatcher_EnqueueTimesOutWhenQueueFull(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	release := make(chan struct{})
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func([]byte) error {
		<-release
		return nil
	})
	producer.ExpectSendMessageAndSucceed()

	d := NewDispatcher(producer, "board-events", nil, DispatcherOptions{QueueSize: 1, Workers: 1})

	// First event is picked up by the worker and parks in the send; the
	// second fills the queue.
	if err := d.Enqueue(context.Background(), testEvent()); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		err := d.Enqueue(ctx, testEvent())
		cancel()
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never accepted the second event: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Enqueue(ctx, testEvent()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Enqueue() on full queue = %v, want deadline exceeded", err)
	}

	close(release)
}

func TestDispatcher_NilProducerDiscardsQuietly(t *testing.T) {
	d := NewDispatcher(nil, "", nil, DispatcherOptions{QueueSize: 2, Workers: 1})
	for i := 0; i < 5; i++ {
		if err := d.Enqueue(context.Background(), testEvent()); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
}
