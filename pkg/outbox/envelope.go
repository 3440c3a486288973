package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EnvelopeVersion is stamped on every row written today. Consumers branch on
// it when the data shape of an event type changes.
const EnvelopeVersion = 1

var ErrMalformedEnvelope = errors.New("malformed outbox envelope")

// ActorRef names who caused the event. Sweeps and timeouts carry the system
// role and no user.
type ActorRef struct {
	UserID     *uuid.UUID `json:"user_id,omitempty"`
	Role       string     `json:"role"`
	ProviderID *uuid.UUID `json:"provider_id,omitempty"`
}

// PayloadEnvelope is the JSON stored in outbox_events.payload and published
// verbatim as the message body. Data holds the event-specific payload.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a message body and checks it carries a usable event
// id, which consumers key their dedupe on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, uuid.UUID, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, uuid.Nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	id, err := uuid.Parse(env.EventID)
	if err != nil || id == uuid.Nil {
		return env, uuid.Nil, fmt.Errorf("%w: event id %q", ErrMalformedEnvelope, env.EventID)
	}
	if env.Version == 0 {
		env.Version = EnvelopeVersion
	}
	return env, id, nil
}
