package envelope

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireEnvelope is the flat wire representation of an Envelope. The content
// field is deferred so it can be decoded into the variant selected by
// message_type.
type wireEnvelope struct {
	MessageID     string          `json:"message_id"`
	SenderID      string          `json:"sender_id"`
	RecipientID   string          `json:"recipient_id,omitempty"`
	Type          MessageType     `json:"message_type"`
	Content       json.RawMessage `json:"content"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	ReplyTo       string          `json:"reply_to,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	TTLSeconds    int             `json:"ttl,omitempty"`
}

// MarshalJSON encodes the envelope as a flat record with an inline content
// object.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	content, err := json.Marshal(e.Content)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope content: %w", err)
	}
	return json.Marshal(wireEnvelope{
		MessageID:     e.MessageID,
		SenderID:      e.SenderID,
		RecipientID:   e.RecipientID,
		Type:          e.Type,
		Content:       content,
		CorrelationID: e.CorrelationID,
		ReplyTo:       e.ReplyTo,
		Timestamp:     e.Timestamp,
		TTLSeconds:    e.TTLSeconds,
	})
}

// UnmarshalJSON decodes a flat wire record, selecting the content variant by
// message_type. Unknown message types are a decode error, so malformed
// envelopes are rejected at the boundary rather than routed.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to unmarshal envelope: %w", err)
	}

	variant, err := emptyContent(w.Type)
	if err != nil {
		return err
	}
	content, err := decodeContent(variant, w.Content)
	if err != nil {
		return fmt.Errorf("failed to unmarshal %q content: %w", w.Type, err)
	}

	e.MessageID = w.MessageID
	e.SenderID = w.SenderID
	e.RecipientID = w.RecipientID
	e.Type = w.Type
	e.Content = content
	e.CorrelationID = w.CorrelationID
	e.ReplyTo = w.ReplyTo
	e.Timestamp = w.Timestamp
	e.TTLSeconds = w.TTLSeconds
	return nil
}

// decodeContent unmarshals raw JSON into a copy of the given variant,
// returning it as a value so decoded envelopes compare equal to constructed
// ones.
func decodeContent(variant Content, raw json.RawMessage) (Content, error) {
	if len(raw) == 0 {
		return nil, ErrNilContent
	}
	switch v := variant.(type) {
	case Query:
		err := json.Unmarshal(raw, &v)
		return v, err
	case Response:
		err := json.Unmarshal(raw, &v)
		return v, err
	case Notification:
		err := json.Unmarshal(raw, &v)
		return v, err
	case Status:
		err := json.Unmarshal(raw, &v)
		return v, err
	case ErrorReport:
		err := json.Unmarshal(raw, &v)
		return v, err
	case Task:
		err := json.Unmarshal(raw, &v)
		return v, err
	case Result:
		err := json.Unmarshal(raw, &v)
		return v, err
	case MemoryOperation:
		err := json.Unmarshal(raw, &v)
		return v, err
	case WorkflowEvent:
		err := json.Unmarshal(raw, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown content variant %T", variant)
	}
}
