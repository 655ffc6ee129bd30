package nostr

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a client frame is not a
// well-formed JSON array of a recognized shape. The caller turns this
// into a NOTICE; it never terminates the session.
var ErrMalformedMessage = errors.New("malformed message")

// ErrUnknownMessageType is returned when the frame's discriminator
// isn't one of EVENT, REQ, or CLOSE.
var ErrUnknownMessageType = errors.New("unknown message type")

// EventMessage is the decoded form of ["EVENT", <event>].
type EventMessage struct {
	Event Event
}

// ReqMessage is the decoded form of ["REQ", <sub id>, <filter>, ...].
type ReqMessage struct {
	SubscriptionID string
	Filters        []Filter
}

// CloseMessage is the decoded form of ["CLOSE", <sub id>].
type CloseMessage struct {
	SubscriptionID string
}

// ParseClientMessage decodes a single client→server wire frame. It
// returns one of *EventMessage, *ReqMessage, or *CloseMessage, or an
// error wrapping ErrMalformedMessage / ErrUnknownMessageType.
func ParseClientMessage(frame []byte) (any, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(frame, &parts); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrMalformedMessage)
	}

	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return nil, fmt.Errorf("%w: discriminator not a string", ErrMalformedMessage)
	}

	switch kind {
	case "EVENT":
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: EVENT wants exactly one event object", ErrMalformedMessage)
		}
		var e Event
		if err := json.Unmarshal(parts[1], &e); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return &EventMessage{Event: e}, nil

	case "REQ":
		if len(parts) < 3 {
			return nil, fmt.Errorf("%w: REQ wants a subscription id and at least one filter", ErrMalformedMessage)
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, fmt.Errorf("%w: subscription id not a string", ErrMalformedMessage)
		}
		filters := make([]Filter, 0, len(parts)-2)
		for _, raw := range parts[2:] {
			var f Filter
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
			}
			filters = append(filters, f)
		}
		return &ReqMessage{SubscriptionID: subID, Filters: filters}, nil

	case "CLOSE":
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: CLOSE wants exactly one subscription id", ErrMalformedMessage)
		}
		var subID string
		if err := json.Unmarshal(parts[1], &subID); err != nil {
			return nil, fmt.Errorf("%w: subscription id not a string", ErrMalformedMessage)
		}
		return &CloseMessage{SubscriptionID: subID}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, kind)
	}
}

// EncodeEvent builds a server→client ["EVENT", subID, event] frame.
func EncodeEvent(subID string, e *Event) ([]byte, error) {
	return json.Marshal([]any{"EVENT", subID, e})
}

// EncodeNotice builds a server→client ["NOTICE", message] frame.
func EncodeNotice(message string) ([]byte, error) {
	return json.Marshal([]any{"NOTICE", message})
}

// EncodeEOSE builds a server→client ["EOSE", subID] frame, emitted
// after a REQ's historical backlog has been flushed.
func EncodeEOSE(subID string) ([]byte, error) {
	return json.Marshal([]any{"EOSE", subID})
}
