package http

import (
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	conc "github.com/panyam/gocurrent"
	log "github.com/sirupsen/logrus"
)

// WSConn is a BiDirStreamConn carried over a WebSocket. Implementations
// usually embed BaseConn and override HandleMessage.
type WSConn[I any] interface {
	BiDirStreamConn[I]

	// ReadMessage is called in a loop by WSHandleConn.
	ReadMessage(w *websocket.Conn) (I, error)

	// OnStart runs after the upgrade. Returning an error closes the
	// connection.
	OnStart(conn *websocket.Conn) error
}

// WSHandler decides whether a request may be upgraded and creates its
// connection. On rejection it writes the response itself and returns false.
type WSHandler[I any, S WSConn[I]] interface {
	Validate(w http.ResponseWriter, r *http.Request) (S, bool)
}

// WSConnConfig adds upgrade settings to the heartbeat timing.
type WSConnConfig struct {
	*BiDirStreamConfig
	Upgrader websocket.Upgrader
}

// DefaultWSConnConfig accepts every origin. Use NewWSConnConfig to restrict
// them.
func DefaultWSConnConfig() *WSConnConfig {
	return NewWSConnConfig(DefaultBiDirStreamConfig(), nil)
}

// NewWSConnConfig builds a config with the given timing. checkOrigin may be
// nil to accept all origins.
func NewWSConnConfig(timing *BiDirStreamConfig, checkOrigin func(r *http.Request) bool) *WSConnConfig {
	if timing == nil {
		timing = DefaultBiDirStreamConfig()
	}
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &WSConnConfig{
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		BiDirStreamConfig: timing,
	}
}

// WSServe returns a handler that validates, upgrades and then runs each
// connection until it closes:
//
//	router.HandleFunc("/graphql", gohttp.WSServe(handler, nil))
func WSServe[I any, S WSConn[I]](handler WSHandler[I, S], config *WSConnConfig) http.HandlerFunc {
	if config == nil {
		config = DefaultWSConnConfig()
	}
	return func(rw http.ResponseWriter, req *http.Request) {
		ctx, isValid := handler.Validate(rw, req)
		if !isValid {
			return
		}

		conn, err := config.Upgrader.Upgrade(rw, req, nil)
		if err != nil {
			// Upgrade has already replied to the client.
			log.WithError(err).WithField("remote", req.RemoteAddr).Warn("WS upgrade failed")
			return
		}
		defer conn.Close()

		WSHandleConn(conn, ctx, config)
	}
}

// WSHandleConn runs an established connection: it dispatches messages to
// ctx.HandleMessage, sends pings, enforces the pong timeout and calls
// ctx.OnClose on the way out. It blocks until the connection ends.
func WSHandleConn[I any, S WSConn[I]](conn *websocket.Conn, ctx S, config *WSConnConfig) {
	if config == nil {
		config = DefaultWSConnConfig()
	}
	logger := log.WithFields(log.Fields{"conn": ctx.Name(), "conn_id": ctx.ConnId()})

	reader := conc.NewReader(func() (I, error) {
		res, err := ctx.ReadMessage(conn)
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
			return res, net.ErrClosed
		}
		return res, err
	})
	defer reader.Stop()

	lastReadAt := time.Now()
	pingTimer := time.NewTicker(config.PingPeriod)
	pongChecker := time.NewTicker(config.PongPeriod)
	defer pingTimer.Stop()
	defer pongChecker.Stop()

	defer ctx.OnClose()
	if err := ctx.OnStart(conn); err != nil {
		logger.WithError(err).Warn("Connection rejected on start")
		return
	}

	conn.SetReadDeadline(time.Now().Add(config.PongPeriod))
	for {
		select {
		case <-pingTimer.C:
			ctx.SendPing()
		case <-pongChecker.C:
			silence := time.Since(lastReadAt)
			if silence > config.PongPeriod && ctx.OnTimeout() {
				logger.WithField("silence", silence.String()).Info("No heartbeat, closing connection")
				return
			}
		case result := <-reader.OutputChan():
			conn.SetReadDeadline(time.Now().Add(config.PongPeriod))
			lastReadAt = time.Now()
			if result.Error == nil {
				ctx.HandleMessage(result.Value)
				continue
			}
			if result.Error == io.EOF || IsClosed(result.Error) {
				logger.Debug("WebSocket closed by peer")
				return
			}
			if ce, ok := result.Error.(*websocket.CloseError); ok {
				logger.WithField("code", ce.Code).Debug("WebSocket closed")
				return
			}
			if ctx.OnError(result.Error) != nil {
				logger.WithError(result.Error).Info("Closing due to error")
				return
			}
		}
	}
}
