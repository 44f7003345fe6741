package http

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
	gut "github.com/panyam/goutils/utils"
	log "github.com/sirupsen/logrus"
)

// OutgoingMessage is anything written to the socket. Pings and data share
// one Writer so that writes are never concurrent.
type OutgoingMessage[O any] struct {
	// Data and Ping are mutually exclusive.
	Data *O
	Ping *PingData
}

// PingData is the body of a heartbeat.
type PingData struct {
	PingId int64
	ConnId string
	Name   string
}

// BaseConn is a WebSocket connection exchanging I messages in and O messages
// out through Codec. Embed it and override HandleMessage:
//
//	type Conn struct {
//	    gohttp.BaseConn[Envelope, Message]
//	}
//
//	func (c *Conn) HandleMessage(msg Envelope) error { ... }
type BaseConn[I any, O any] struct {
	// Codec must be set before the connection starts.
	Codec Codec[I, O]

	// Writer serializes everything sent on the socket. Set by OnStart.
	Writer *conc.Writer[OutgoingMessage[O]]

	// Logger defaults to the standard logrus logger.
	Logger *log.Logger

	NameStr string

	// ConnIdStr is generated on first use if empty.
	ConnIdStr string

	PingId int64

	mu         sync.Mutex
	closed     bool
	writerDone chan struct{}
}

func (b *BaseConn[I, O]) Name() string {
	if b.NameStr == "" {
		b.NameStr = "BaseConn"
	}
	return b.NameStr
}

func (b *BaseConn[I, O]) ConnId() string {
	if b.ConnIdStr == "" {
		b.ConnIdStr = gut.RandString(10, "")
	}
	return b.ConnIdStr
}

// Log returns an entry tagged with the connection.
func (b *BaseConn[I, O]) Log() *log.Entry {
	logger := b.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	return logger.WithFields(log.Fields{
		"conn":    b.Name(),
		"conn_id": b.ConnId(),
	})
}

// ReadMessage reads one frame and decodes it with the Codec.
func (b *BaseConn[I, O]) ReadMessage(conn *websocket.Conn) (I, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		var zero I
		return zero, err
	}
	return b.Codec.Decode(data, MessageType(msgType))
}

// OnStart creates the Writer for conn.
func (b *BaseConn[I, O]) OnStart(conn *websocket.Conn) error {
	b.Log().Debug("Starting connection")
	b.startWriter(func(msg OutgoingMessage[O]) error {
		if msg.Ping != nil {
			return b.writePing(conn, msg.Ping)
		} else if msg.Data != nil {
			return b.writeMessage(conn, *msg.Data)
		}
		return nil
	})
	return nil
}

// startWriter runs write on a new Writer. The Writer exits on the first
// write error and closes its input, so the connection is marked closed
// from then on and later sends are dropped.
func (b *BaseConn[I, O]) startWriter(write conc.WriterFunc[OutgoingMessage[O]]) {
	w := conc.NewWriter(write)
	done := make(chan struct{})
	b.mu.Lock()
	b.Writer = w
	b.writerDone = done
	b.closed = false
	b.mu.Unlock()

	go func() {
		defer close(done)
		if err, ok := <-w.ClosedChan(); ok && err != nil {
			b.Log().WithError(err).Warn("Write failed, dropping further output")
		}
		b.markClosed()
	}()
}

func (b *BaseConn[I, O]) markClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	was := b.closed
	b.closed = true
	return !was
}

// Closed reports whether output is no longer accepted.
func (b *BaseConn[I, O]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed || b.Writer == nil
}

// send queues msg unless the connection is closed. Returns false when msg
// was dropped.
func (b *BaseConn[I, O]) send(msg OutgoingMessage[O]) (sent bool) {
	b.mu.Lock()
	w, done, closed := b.Writer, b.writerDone, b.closed
	b.mu.Unlock()
	if w == nil || closed {
		return false
	}
	input := w.InputChan()
	if input == nil {
		return false
	}
	// The Writer closes its input when it exits.
	defer func() {
		if r := recover(); r != nil {
			b.markClosed()
			sent = false
		}
	}()
	select {
	case input <- msg:
		return true
	case <-done:
		return false
	}
}

func (b *BaseConn[I, O]) writeMessage(conn *websocket.Conn, msg O) error {
	data, msgType, err := b.Codec.Encode(msg)
	if err != nil {
		b.Log().WithError(err).Error("Could not encode message")
		return err
	}
	return conn.WriteMessage(int(msgType), data)
}

// writePing always writes JSON text so heartbeats stay readable whatever
// the codec.
func (b *BaseConn[I, O]) writePing(conn *websocket.Conn, ping *PingData) error {
	data, _ := json.Marshal(map[string]any{
		"type":   "ping",
		"pingId": ping.PingId,
		"connId": ping.ConnId,
		"name":   ping.Name,
	})
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendPing queues a heartbeat on the Writer.
func (b *BaseConn[I, O]) SendPing() error {
	b.PingId++
	b.send(OutgoingMessage[O]{
		Ping: &PingData{
			PingId: b.PingId,
			ConnId: b.ConnId(),
			Name:   b.Name(),
		},
	})
	return nil
}

func (b *BaseConn[I, O]) HandleMessage(msg I) error {
	b.Log().WithField("message", msg).Debug("Received message")
	return nil
}

// OnError closes the connection on any error unless overridden.
func (b *BaseConn[I, O]) OnError(err error) error {
	return err
}

func (b *BaseConn[I, O]) OnClose() {
	b.mu.Lock()
	w, done := b.Writer, b.writerDone
	b.mu.Unlock()
	if b.markClosed() && w != nil {
		b.stopWriter(w, done)
	}
	b.Log().Debug("Closed connection")
}

// stopWriter stops w unless it already exited after a write error.
func (b *BaseConn[I, O]) stopWriter(w *conc.Writer[OutgoingMessage[O]], done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-w.ClosedChan():
		return
	default:
	}
	defer func() {
		if r := recover(); r != nil {
			b.Log().WithField("reason", r).Debug("Writer exited while stopping")
		}
	}()
	w.Stop()
}

func (b *BaseConn[I, O]) OnTimeout() bool {
	return true
}

// SendOutput queues msg on the Writer. Output sent after the connection
// closed or failed is dropped.
func (b *BaseConn[I, O]) SendOutput(msg O) {
	b.send(OutgoingMessage[O]{Data: &msg})
}
