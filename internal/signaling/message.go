package signaling

import (
	"encoding/json"
	"fmt"
)

// Message represents all WebSocket messages between a participant and the relay.
type Message struct {
	Type    string          `json:"type"`
	RoomID  string          `json:"room_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	MessageTypeJoinRoom        = "join-room"
	MessageTypeSendingSignal   = "sending-signal"
	MessageTypeReturningSignal = "returning-signal"

	MessageTypeRoster         = "roster"
	MessageTypePeerJoined     = "peer-joined"
	MessageTypeReturnedSignal = "returned-signal"
	MessageTypePeerLeft       = "peer-left"
	MessageTypeError          = "error"
)

// RosterPayload is the room membership at join time. ID is the identity the
// relay assigned to the receiving connection.
type RosterPayload struct {
	ID      string   `json:"id"`
	Members []string `json:"members"`
}

// PeerJoinedPayload announces a newcomer together with its first handshake signal.
type PeerJoinedPayload struct {
	CallerID string          `json:"caller_id"`
	Signal   json.RawMessage `json:"signal"`
}

// SendingSignalPayload is an initiator's signal, forwarded by the relay to TargetID.
type SendingSignalPayload struct {
	TargetID string          `json:"target_id"`
	CallerID string          `json:"caller_id"`
	Signal   json.RawMessage `json:"signal"`
}

// ReturningSignalPayload is a responder's reply, forwarded by the relay to CallerID.
type ReturningSignalPayload struct {
	Signal   json.RawMessage `json:"signal"`
	CallerID string          `json:"caller_id"`
}

// ReturnedSignalPayload delivers a responder's reply back to the initiator.
// ID is the responder.
type ReturnedSignalPayload struct {
	ID     string          `json:"id"`
	Signal json.RawMessage `json:"signal"`
}

// PeerLeftPayload reports a participant that left the room.
type PeerLeftPayload struct {
	ID string `json:"id"`
}

// ErrorPayload represents error messages from server.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage builds a message with payload encoded as JSON.
func NewMessage(msgType, roomID string, payload any) (*Message, error) {
	msg := &Message{Type: msgType, RoomID: roomID}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", msgType, err)
		}
		msg.Payload = b
	}
	return msg, nil
}

// DecodePayload decodes the message payload into v.
func (m *Message) DecodePayload(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

// JoinRoom requests membership of roomID.
func JoinRoom(roomID string) *Message {
	return &Message{Type: MessageTypeJoinRoom, RoomID: roomID}
}

// SendingSignal wraps an initiator's signal for targetID.
func SendingSignal(targetID, callerID string, signal json.RawMessage) (*Message, error) {
	return NewMessage(MessageTypeSendingSignal, "", SendingSignalPayload{
		TargetID: targetID,
		CallerID: callerID,
		Signal:   signal,
	})
}

// ReturningSignal wraps a responder's reply for callerID.
func ReturningSignal(callerID string, signal json.RawMessage) (*Message, error) {
	return NewMessage(MessageTypeReturningSignal, "", ReturningSignalPayload{
		Signal:   signal,
		CallerID: callerID,
	})
}
