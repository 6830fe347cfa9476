// Package queue defines message payloads exchanged over the message broker
// plus the publisher and consumer for the activity audit stream.
package queue

import "encoding/json"

// ActivityQueueName is the durable queue carrying audit events.
const ActivityQueueName = "activity.logged"

// ActivityEvent is published for every audit fact the core records. It
// contains enough information for downstream consumers to log, alert, or
// feed analytics without querying the primary database.
type ActivityEvent struct {
	EventType  string          `json:"event_type"`
	UserID     *uint64         `json:"user_id,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	OccurredAt string          `json:"occurred_at"`
}
