package gqlws

import (
	"github.com/graphql-go/graphql"
	"google.golang.org/grpc/status"

	gohttp "github.com/panyam/livekit/http"
	"github.com/panyam/livekit/livequery"
)

// Envelope types
const (
	TypeExecute  = "execute"
	TypeStop     = "stop"
	TypeResult   = "result"
	TypeComplete = "complete"
	TypeError    = "error"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Envelope is a message sent by the client.
type Envelope struct {
	Type    string             `json:"type"`
	ID      string             `json:"id,omitempty"`
	Payload *livequery.Request `json:"payload,omitempty"`
	PingId  int64              `json:"pingId,omitempty"`

	// malformed is set when the frame could not be decoded.
	malformed error
}

// Message is a message sent by the server.
type Message struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload *graphql.Result `json:"payload,omitempty"`
	Final   bool            `json:"final,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
	PingId  int64           `json:"pingId,omitempty"`
}

// errorMessage turns err into an error message tagged with id. gRPC status
// errors keep their code; anything else is Unknown.
func errorMessage(id string, err error) Message {
	st := status.Convert(err)
	return Message{
		Type:  TypeError,
		ID:    id,
		Code:  st.Code().String(),
		Error: st.Message(),
	}
}

// NewCodec returns the codec used on both ends of a connection.
func NewCodec() gohttp.Codec[Envelope, Message] {
	return &gohttp.TypedJSONCodec[Envelope, Message]{}
}

// NewClientCodec is NewCodec seen from the client side.
func NewClientCodec() gohttp.Codec[Message, Envelope] {
	return &gohttp.TypedJSONCodec[Message, Envelope]{}
}
