package queue

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// StartActivityConsumer connects to RabbitMQ, declares the activity.logged
// queue (durable), and starts consuming messages. Each event is appended to
// logs/activity.log in a single-line, human-friendly format so operators can
// tail the audit stream without database access. The function runs a
// reconnect loop with exponential backoff and keeps running across broker
// restarts; processing errors are logged and the offending message rejected
// so the server continues operating. Intended to run in its own goroutine.
func StartActivityConsumer() {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(brokerURL())
		if err != nil {
			log.Printf("activity-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		if err := consumeActivity(conn); err != nil {
			log.Printf("activity-consumer: consume loop ended: %v; reconnecting", err)
			time.Sleep(2 * time.Second)
		}
	}
}

func consumeActivity(conn *amqp.Connection) error {
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(ActivityQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	deliveries, err := ch.Consume(ActivityQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	if err := os.MkdirAll("logs", 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(filepath.Join("logs", "activity.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open activity log: %w", err)
	}
	defer func() { _ = f.Close() }()

	for d := range deliveries {
		var ev ActivityEvent
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			log.Printf("activity-consumer: bad payload: %v", err)
			_ = d.Reject(false)
			continue
		}
		line := formatActivityLine(ev)
		if _, err := f.WriteString(line + "\n"); err != nil {
			log.Printf("activity-consumer: write failed: %v", err)
			_ = d.Reject(true)
			continue
		}
		_ = d.Ack(false)
	}
	return fmt.Errorf("delivery channel closed")
}

func formatActivityLine(ev ActivityEvent) string {
	user := "-"
	if ev.UserID != nil {
		user = fmt.Sprintf("%d", *ev.UserID)
	}
	meta := "{}"
	if len(ev.Metadata) > 0 {
		meta = string(ev.Metadata)
	}
	return fmt.Sprintf("%s user=%s event=%s meta=%s", ev.OccurredAt, user, ev.EventType, meta)
}
