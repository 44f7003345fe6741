package http

import (
	"encoding/json"

	"github.com/gorilla/websocket"
)

// MessageType is the WebSocket frame type.
type MessageType int

const (
	TextMessage   MessageType = websocket.TextMessage
	BinaryMessage MessageType = websocket.BinaryMessage
)

// Codec converts between frames and typed messages. I is what is received,
// O what is sent. Heartbeats are written by BaseConn and never reach a codec.
type Codec[I any, O any] interface {
	Decode(data []byte, msgType MessageType) (I, error)
	Encode(msg O) ([]byte, MessageType, error)
}

// TypedJSONCodec sends and receives JSON text frames mapped onto Go structs.
type TypedJSONCodec[I any, O any] struct{}

func (c *TypedJSONCodec[I, O]) Decode(data []byte, msgType MessageType) (I, error) {
	var out I
	if msgType == BinaryMessage {
		return out, ErrBinaryFrame
	}
	err := json.Unmarshal(data, &out)
	return out, err
}

func (c *TypedJSONCodec[I, O]) Encode(msg O) ([]byte, MessageType, error) {
	data, err := json.Marshal(msg)
	return data, TextMessage, err
}

var _ Codec[any, any] = (*TypedJSONCodec[any, any])(nil)
