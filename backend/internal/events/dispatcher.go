package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/IBM/sarama"
)

const EventElementsMerged = "ELEMENTS_MERGED"

// BoardEvent is the applied-update record published for downstream
// consumers (activity feeds, analytics). Delivery is best-effort.
type BoardEvent struct {
	EventType string    `json:"eventType"`
	CanvasID  string    `json:"canvasId"`
	ActorID   uint64    `json:"actorId"`
	Applied   int       `json:"applied"`
	At        time.Time `json:"at"`
}

// Dispatcher decouples the merge path from kafka: submits only enqueue, a
// bounded local queue absorbs broker hiccups and workers retry with capped
// backoff. A full queue degrades by dropping rather than growing without
// bound.
type Dispatcher struct {
	producer sarama.SyncProducer
	topic    string

	queue chan BoardEvent

	// sem limits concurrent SendMessage calls.
	sem *Semaphore

	workers     int
	maxRetry    int
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

type DispatcherOptions struct {
	QueueSize   int
	Workers     int
	MaxRetry    int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func NewDispatcher(producer sarama.SyncProducer, topic string, sem *Semaphore, opt DispatcherOptions) *Dispatcher {
	if opt.QueueSize <= 0 {
		opt.QueueSize = 1024
	}
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	d := &Dispatcher{
		producer:    producer,
		topic:       topic,
		queue:       make(chan BoardEvent, opt.QueueSize),
		sem:         sem,
		workers:     opt.Workers,
		maxRetry:    opt.MaxRetry,
		baseBackoff: opt.BaseBackoff,
		maxBackoff:  opt.MaxBackoff,
	}
	d.start()
	return d
}

// Enqueue queues an event, waiting at most until ctx expires when the queue
// is full. Events are not required to be delivered; the caller logs and
// moves on.
func (d *Dispatcher) Enqueue(ctx context.Context, evt BoardEvent) error {
	select {
	case d.queue <- evt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) start() {
	for i := 0; i < d.workers; i++ {
		go d.workerLoop(i)
	}
}

func (d *Dispatcher) workerLoop(workerID int) {
	for evt := range d.queue {
		d.sendWithRetry(workerID, evt)
	}
}

func (d *Dispatcher) sendWithRetry(workerID int, evt BoardEvent) {
	for attempt := 0; attempt <= d.maxRetry; attempt++ {
		if d.sem != nil {
			// Workers may wait indefinitely; they are off the merge path.
			_ = d.sem.Acquire(context.Background())
		}

		err := d.sendOnce(evt)

		if d.sem != nil {
			_ = d.sem.Release()
		}

		if err == nil {
			return
		}
		if attempt == d.maxRetry {
			log.Printf("events: kafka send failed, drop event canvas=%s actor=%d worker=%d err=%v",
				evt.CanvasID, evt.ActorID, workerID, err)
			return
		}

		backoff := d.baseBackoff * time.Duration(1<<attempt)
		if backoff > d.maxBackoff {
			backoff = d.maxBackoff
		}
		time.Sleep(backoff)
	}
}

func (d *Dispatcher) sendOnce(evt BoardEvent) error {
	if d.producer == nil || d.topic == "" {
		return nil
	}
	b, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: d.topic,
		Key:   sarama.StringEncoder(evt.CanvasID),
		Value: sarama.ByteEncoder(b),
	}
	_, _, err = d.producer.SendMessage(msg)
	return err
}
