package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ecu/internal/activity"
)

// ActivityMessage carries one activity event to the journal worker.
type ActivityMessage struct {
	Event       activity.Event `json:"event"`
	PublishedAt time.Time      `json:"published_at"`
}

func NewActivityMessage(e activity.Event) *ActivityMessage {
	return &ActivityMessage{
		Event:       e,
		PublishedAt: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ActivityMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ActivityMessageFromJSON decodes and validates a message body.
func ActivityMessageFromJSON(data []byte) (*ActivityMessage, error) {
	var msg ActivityMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if err := msg.Event.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &msg, nil
}
