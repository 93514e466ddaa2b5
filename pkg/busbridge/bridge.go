// Package busbridge exposes the in-process message bus across process
// boundaries via Google Cloud Pub/Sub. A Publisher mirrors local envelopes
// out to a topic; an Injector consumes a subscription and feeds decoded
// envelopes into the local bus. Envelopes travel as the flat JSON wire
// record, with routing fields duplicated as message attributes so
// subscriptions can filter without decoding bodies.
package busbridge

import (
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/illmade-knight/go-agent-substrate/pkg/envelope"
)

// Attribute keys on bridged Pub/Sub messages.
const (
	attrMessageType   = "message_type"
	attrSenderID      = "sender_id"
	attrRecipientID   = "recipient_id"
	attrCorrelationID = "correlation_id"
	attrOrigin        = "bridge_origin"
)

// encodeMessage serializes an envelope for transport, stamping the bridge
// origin so the publishing process can recognise (and skip) its own traffic
// coming back around.
func encodeMessage(env *envelope.Envelope, originID string) (*pubsub.Message, error) {
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to bridge invalid envelope: %w", err)
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope %s: %w", env.MessageID, err)
	}
	attributes := map[string]string{
		attrMessageType: string(env.Type),
		attrSenderID:    env.SenderID,
		attrOrigin:      originID,
	}
	if env.RecipientID != "" {
		attributes[attrRecipientID] = env.RecipientID
	}
	if env.CorrelationID != "" {
		attributes[attrCorrelationID] = env.CorrelationID
	}
	return &pubsub.Message{Data: body, Attributes: attributes}, nil
}

// decodeMessage deserializes a bridged message back into an envelope,
// rejecting bodies whose content shape does not match their declared type.
func decodeMessage(msg *pubsub.Message) (*envelope.Envelope, error) {
	var env envelope.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode bridged envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return nil, fmt.Errorf("bridged envelope failed validation: %w", err)
	}
	return &env, nil
}

// messageOrigin returns the bridge origin attribute, empty for messages
// published outside a bridge.
func messageOrigin(msg *pubsub.Message) string {
	return msg.Attributes[attrOrigin]
}
