package types

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/settlement-engine/pkg/enums"
)

// ErrEmptyPayload is returned by Decode when the event carried no data.
var ErrEmptyPayload = errors.New("empty event payload")

// Envelope is a settlement event as read off the analytics subscription: the
// routing attributes plus the event's data block.
type Envelope struct {
	EventID       string                    `json:"event_id"`
	EventType     enums.OutboxEventType     `json:"event_type"`
	AggregateType enums.OutboxAggregateType `json:"aggregate_type"`
	AggregateID   string                    `json:"aggregate_id"`
	SchemaVersion int                       `json:"schema_version"`
	OccurredAt    time.Time                 `json:"occurred_at"`
	Payload       json.RawMessage           `json:"payload"`
}

// Decode unmarshals the data block into dst.
func (e Envelope) Decode(dst any) error {
	if len(bytes.TrimSpace(e.Payload)) == 0 || bytes.Equal(bytes.TrimSpace(e.Payload), []byte("null")) {
		return fmt.Errorf("%s: %w", e.EventType, ErrEmptyPayload)
	}
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	return nil
}
