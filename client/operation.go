package client

import (
	"context"
	"sync"
	"time"

	"github.com/panyam/livekit/gqlws"
)

func deadline() time.Time {
	return time.Now().Add(time.Second)
}

// Operation is one running operation on a Client.
type Operation struct {
	ID string

	client   *Client
	messages chan gqlws.Message
	done     chan struct{}
	once     sync.Once
}

func (o *Operation) deliver(msg gqlws.Message, last bool) {
	select {
	case o.messages <- msg:
	case <-o.done:
		return
	}
	if last {
		o.end()
	}
}

func (o *Operation) end() {
	o.once.Do(func() { close(o.done) })
}

// Next returns the next message. Result messages are returned as they are;
// an error message is returned as *Error. ErrClosed means the operation is
// over: it completed, was stopped or the connection went away.
func (o *Operation) Next(ctx context.Context) (gqlws.Message, error) {
	select {
	case msg := <-o.messages:
		return unwrap(msg)
	default:
	}
	select {
	case msg := <-o.messages:
		return unwrap(msg)
	case <-o.done:
		// Drain what arrived before the end.
		select {
		case msg := <-o.messages:
			return unwrap(msg)
		default:
		}
		return gqlws.Message{}, ErrClosed
	case <-ctx.Done():
		return gqlws.Message{}, ctx.Err()
	}
}

func unwrap(msg gqlws.Message) (gqlws.Message, error) {
	if msg.Type == gqlws.TypeError {
		return msg, &Error{ID: msg.ID, Code: msg.Code, Message: msg.Error}
	}
	return msg, nil
}

// Done is closed when no more messages will be added.
func (o *Operation) Done() <-chan struct{} {
	return o.done
}

// Stop asks the server to cancel the operation. Safe to call after it ended.
func (o *Operation) Stop() {
	if o.client.forget(o) {
		o.client.send(gqlws.Envelope{Type: gqlws.TypeStop, ID: o.ID})
	}
	o.end()
}
