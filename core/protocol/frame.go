// Package protocol defines the JSON envelope exchanged with the dispatch
// service and the outbound message payloads.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Inbound event names.
const (
	EventNewRequest        = "new-ride-request-for-driver"
	EventFareRaised        = "ride-request-fare-raised"
	EventWithdrawn         = "ride-request-withdrawn"
	EventAssignedElsewhere = "ride-request-assigned-elsewhere"
	EventBidAccepted       = "bid-accepted"
	EventBidScheduled      = "bid-accepted-scheduled"
	EventRideStarted       = "ride-started"
	EventRideCompleted     = "ride-completed"
	EventRideCancelled     = "ride-cancelled"
	EventAck               = "ack"
)

// Outbound event names.
const (
	EventAddUser        = "add-user"
	EventPlaceBid       = "place-bid"
	EventUpdateLocation = "update-rider-current-location"
)

// Frame is the envelope carried by every transport.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	AckID string          `json:"ackId,omitempty"`
}

// Message is an outbound payload.
type Message interface {
	EventName() string
}

// Encode wraps msg in a Frame. A non-empty ackID asks the server to answer
// with an ack frame carrying the same id.
func Encode(msg Message, ackID string) (Frame, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s: %w", msg.EventName(), err)
	}
	return Frame{Event: msg.EventName(), Data: data, AckID: ackID}, nil
}

// Marshal serializes a frame for the wire.
func Marshal(f Frame) ([]byte, error) { return json.Marshal(f) }

// Unmarshal parses a frame from the wire.
func Unmarshal(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Event == "" {
		return Frame{}, fmt.Errorf("decode frame: missing event name")
	}
	return f, nil
}

// Ack is the decoded body of an ack frame.
type Ack struct {
	ID      string
	Success bool
	Raw     json.RawMessage
}

// DecodeAck extracts the success flag from an ack frame. Acks without a body
// count as successful.
func DecodeAck(f Frame) (Ack, error) {
	ack := Ack{ID: f.AckID, Success: true, Raw: f.Data}
	if len(f.Data) == 0 || string(f.Data) == "null" {
		return ack, nil
	}
	var body struct {
		Success *bool `json:"success"`
	}
	if err := json.Unmarshal(f.Data, &body); err != nil {
		return Ack{}, fmt.Errorf("decode ack %s: %w", f.AckID, err)
	}
	if body.Success != nil {
		ack.Success = *body.Success
	}
	return ack, nil
}
