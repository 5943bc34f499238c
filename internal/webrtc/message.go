package webrtc

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// RoomEventsLabel is the data channel every mesh link carries for room events.
const RoomEventsLabel = "room-events"

// Room event message types.
const (
	MessageTypeSpeaking = "speaking"
	MessageTypeHello    = "hello"
)

// Message represents all room-events data channel messages
type Message struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// SpeakingPayload announces the sender's speaking state.
type SpeakingPayload struct {
	Speaking bool `msgpack:"speaking"`
}

// HelloPayload is sent once when the channel opens.
type HelloPayload struct {
	ParticipantID string `msgpack:"participantId"`
	Client        string `msgpack:"client"`
	Speaking      bool   `msgpack:"speaking"`
}

// DecodePayload decodes the message payload into the provided struct
func (m Message) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

// NewMessage creates a new Message with the given type and payload
func NewMessage(t string, payload any) (Message, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Type:    t,
		Payload: b,
	}, nil
}

// Encode builds and marshals a message ready for DataChannel.Send.
func Encode(t string, payload any) ([]byte, error) {
	msg, err := NewMessage(t, payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return msgpack.Marshal(msg)
}

// Decode unmarshals a data channel frame.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode room event: %w", err)
	}
	return msg, nil
}
