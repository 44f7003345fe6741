package gqlws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/livekit/gqlctx"
	gohttp "github.com/panyam/livekit/http"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/metrics"
	"github.com/panyam/livekit/services/user"
	"github.com/panyam/livekit/session"
)

// SessionBinder associates sessions with connection ids.
type SessionBinder interface {
	Bind(connID string, rec *session.Record)
	Unbind(connID string)
}

// Handler accepts GraphQL WebSocket connections.
type Handler struct {
	// Resolve finds the session of the upgrade request. Nil, or a nil
	// record, leaves the connection without a session; its operations then
	// fail until one is bound.
	Resolve  session.Resolver
	Sessions SessionBinder
	Builder  *gqlctx.Builder
	Store    *livequery.Store

	// Presence, when set, is told about every connection with a session.
	Presence *user.Presence

	Logger           logging.Logger
	Metrics          *metrics.Metrics
	OperationTimeout time.Duration
}

// Validate resolves the session of r. Requests whose session cannot be
// resolved are refused with 401.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) (*Conn, bool) {
	var rec *session.Record
	if h.Resolve != nil {
		var err error
		rec, err = h.Resolve(r)
		if err != nil {
			gohttp.SendJsonResponse(w, nil, status.Error(codes.Unauthenticated, err.Error()))
			return nil, false
		}
	}
	return &Conn{
		BaseConn: gohttp.BaseConn[Envelope, Message]{
			Codec:   NewCodec(),
			NameStr: "GraphQLConn",
			Logger:  h.Logger,
		},
		handler: h,
		session: rec,
	}, true
}

// Conn is one client connection.
type Conn struct {
	gohttp.BaseConn[Envelope, Message]

	handler *Handler
	session *session.Record
	mux     *Mux
}

// Session returns the record resolved at upgrade, if any.
func (c *Conn) Session() *session.Record {
	return c.session
}

// ReadMessage keeps undecodable frames in the stream so they are answered
// with an error instead of closing the connection.
func (c *Conn) ReadMessage(ws *websocket.Conn) (Envelope, error) {
	msgType, data, err := ws.ReadMessage()
	if err != nil {
		return Envelope{}, err
	}
	env, err := c.Codec.Decode(data, gohttp.MessageType(msgType))
	if err != nil {
		return Envelope{malformed: err}, nil
	}
	return env, nil
}

func (c *Conn) OnStart(ws *websocket.Conn) error {
	if err := c.BaseConn.OnStart(ws); err != nil {
		return err
	}
	h := c.handler
	connID := c.ConnId()
	if c.session != nil && h.Sessions != nil {
		h.Sessions.Bind(connID, c.session)
	}
	c.mux = NewMux(connID, c.SendOutput, MuxConfig{
		Store:            h.Store,
		Context:          gqlctx.NewLazy(h.Builder, connID),
		Logger:           h.Logger,
		Metrics:          h.Metrics,
		OperationTimeout: h.OperationTimeout,
	})
	h.Metrics.ConnectionOpened()
	if h.Presence != nil {
		h.Presence.Add(c.session)
	}
	entry := c.Log()
	if c.session != nil {
		entry = entry.WithField("user", c.session.Name)
	}
	entry.Info("GraphQL connection started")
	return nil
}

func (c *Conn) HandleMessage(env Envelope) error {
	if env.malformed != nil {
		c.mux.Reject(env.ID, status.Errorf(codes.InvalidArgument, "malformed message: %v", env.malformed))
		return nil
	}
	c.mux.Handle(env)
	return nil
}

// OnClose stops every operation before the writer goes away.
func (c *Conn) OnClose() {
	if c.mux != nil {
		h := c.handler
		c.mux.Close()
		if h.Presence != nil {
			h.Presence.Remove(c.session)
		}
		if c.session != nil && h.Sessions != nil {
			h.Sessions.Unbind(c.ConnId())
		}
		h.Metrics.ConnectionClosed()
		c.Log().Info("GraphQL connection closed")
	}
	c.BaseConn.OnClose()
}
