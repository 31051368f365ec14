package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chat-relay/internal/relay"
)

var errBadTask = errors.New("rabbitmq: malformed task")

// Consumer feeds queued tasks to a fixed pool of workers. Every delivery is
// acked once handled, whatever the outcome; replies are at most once.
type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
}

func NewConsumer(url, queue string, concurrency int) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := declare(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	// strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency}, nil
}

func (c *Consumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Run consumes until ctx is done or the broker closes the channel, then waits
// for in-flight tasks.
func (c *Consumer) Run(ctx context.Context, handle relay.HandlerFunc) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	slog.Info("consumer started", "queue", c.queue, "concurrency", c.concurrency)

	jobs := make(chan amqp.Delivery, c.concurrency*2)
	wg := startWorkers(ctx, c.concurrency, jobs, handle)
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("consumer shutting down")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq: delivery channel closed")
			}
			jobs <- d
		}
	}
}

// startWorkers runs n workers over jobs. Deliveries still buffered at shutdown
// are handled with a context that is not cancelled, so they get a reply before
// being acked.
func startWorkers(ctx context.Context, n int, jobs <-chan amqp.Delivery, handle relay.HandlerFunc) *sync.WaitGroup {
	work := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				process(work, workerID, d.Body, d, handle)
			}
		}(i)
	}
	return &wg
}

// acknowledger is the part of amqp.Delivery the worker needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func process(ctx context.Context, workerID int, body []byte, ack acknowledger, handle relay.HandlerFunc) {
	t, err := decodeTask(body)
	if err != nil {
		slog.Warn("bad task message", "worker", workerID, "error", err)
		_ = ack.Nack(false, false)
		return
	}

	start := time.Now()
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("worker panic", "worker", workerID, "job_id", t.JobID, "panic", rec)
			}
		}()
		handle(ctx, t)
	}()

	if err := ack.Ack(false); err != nil {
		slog.Warn("ack failed", "worker", workerID, "job_id", t.JobID, "cost", time.Since(start), "error", err)
	}
}

func decodeTask(body []byte) (relay.Task, error) {
	var t relay.Task
	if err := json.Unmarshal(body, &t); err != nil {
		return relay.Task{}, errors.Join(errBadTask, err)
	}
	if t.JobID == "" || t.UserID == "" || t.ReplyToken == "" {
		return relay.Task{}, errBadTask
	}
	return t, nil
}
