package events

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// Acknowledger records delivery results against the outbox row of an event.
type Acknowledger interface {
	MarkEventDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordEventFailure(ctx context.Context, id uuid.UUID, reason string) error
}

// Encode is the outbox payload of e.
func Encode(e Event) ([]byte, error) {
	b, err := sonic.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %s: %w", e.ID, err)
	}
	return b, nil
}

func Decode(payload []byte) (Event, error) {
	var e Event
	if err := sonic.Unmarshal(payload, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.ID == uuid.Nil || e.Name == "" {
		return Event{}, fmt.Errorf("decode event: missing id or name")
	}
	return e, nil
}
