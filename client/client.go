// Package client speaks the gqlws protocol from Go. It is used by the
// livekit CLI and by end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	conc "github.com/panyam/gocurrent"
	"google.golang.org/grpc/codes"

	"github.com/panyam/livekit/gqlws"
	gohttp "github.com/panyam/livekit/http"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/logging"
)

// ErrClosed is returned once the connection has gone away.
var ErrClosed = errors.New("client connection closed")

// Error is an error message sent by the server for one operation.
type Error struct {
	ID      string
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("operation %q failed: %s: %s", e.ID, e.Code, e.Message)
}

// operationBuffer is how many messages an Operation holds before the
// dispatcher waits for its consumer.
const operationBuffer = 64

// Client is one connection to a livekit server.
type Client struct {
	conn   *websocket.Conn
	reader *conc.Reader[gqlws.Message]
	writer *conc.Writer[gqlws.Envelope]
	logger logging.Logger

	mu      sync.Mutex
	ops     map[string]*Operation
	counter int
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures Dial.
type Option func(*dialOptions)

type dialOptions struct {
	params map[string]any
	header http.Header
	logger logging.Logger
}

// WithParams adds query parameters to the URL, e.g. {"name": "ada"}.
func WithParams(params map[string]any) Option {
	return func(o *dialOptions) { o.params = params }
}

// WithHeader sends extra headers with the upgrade request.
func WithHeader(header http.Header) Option {
	return func(o *dialOptions) { o.header = header }
}

func WithLogger(logger logging.Logger) Option {
	return func(o *dialOptions) { o.logger = logger }
}

// Dial connects to the /graphql endpoint at url. http(s) URLs are accepted.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	o := dialOptions{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	url = gohttp.NormalizeWsUrl(url)
	if len(o.params) > 0 {
		url += "?" + gohttp.JsonToQueryString(o.params)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, o.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	reader, writer := gohttp.WSConnReaderWriter(conn, gqlws.NewClientCodec())
	c := &Client{
		conn:   conn,
		reader: reader,
		writer: writer,
		logger: o.logger,
		ops:    make(map[string]*Operation),
		done:   make(chan struct{}),
	}
	go c.dispatch()
	return c, nil
}

func (c *Client) dispatch() {
	defer c.shutdown(ErrClosed)
	for {
		select {
		case <-c.done:
			return
		case result := <-c.reader.OutputChan():
			if result.Error != nil {
				if !gohttp.IsClosed(result.Error) {
					c.logger.WithError(result.Error).Warn("Read failed")
				}
				c.shutdown(result.Error)
				return
			}
			c.route(result.Value)
		}
	}
}

func (c *Client) route(msg gqlws.Message) {
	switch msg.Type {
	case gqlws.TypePing:
		c.send(gqlws.Envelope{Type: gqlws.TypePong, PingId: msg.PingId})
		return
	case gqlws.TypePong:
		return
	}

	c.mu.Lock()
	op, ok := c.ops[msg.ID]
	last := msg.Final || msg.Type == gqlws.TypeComplete || msg.Type == gqlws.TypeError
	if ok && last {
		delete(c.ops, msg.ID)
	}
	c.mu.Unlock()
	if !ok {
		c.logger.WithFields(logging.Fields{"id": msg.ID, "type": msg.Type}).Debug("Message for unknown operation")
		return
	}
	op.deliver(msg, last)
}

func (c *Client) send(env gqlws.Envelope) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writer.Send(env)
	return nil
}

// NextID returns a fresh operation id.
func (c *Client) NextID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return "op" + strconv.Itoa(c.counter)
}

// Execute starts req under id. Messages for it arrive on the returned
// Operation until it ends or is stopped.
func (c *Client) Execute(id string, req livequery.Request) (*Operation, error) {
	op := &Operation{
		ID:       id,
		client:   c,
		messages: make(chan gqlws.Message, operationBuffer),
		done:     make(chan struct{}),
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return nil, c.err
	}
	if _, active := c.ops[id]; active {
		c.mu.Unlock()
		return nil, &Error{
			ID:      id,
			Code:    codes.AlreadyExists.String(),
			Message: "operation id is already in use",
		}
	}
	c.ops[id] = op
	c.mu.Unlock()

	if err := c.send(gqlws.Envelope{Type: gqlws.TypeExecute, ID: id, Payload: &req}); err != nil {
		c.forget(op)
		return nil, err
	}
	return op, nil
}

// Query runs a one-shot operation and waits for its result.
func (c *Client) Query(ctx context.Context, req livequery.Request) (*graphql.Result, error) {
	op, err := c.Execute(c.NextID(), req)
	if err != nil {
		return nil, err
	}
	defer op.Stop()
	msg, err := op.Next(ctx)
	if err != nil {
		return nil, err
	}
	return msg.Payload, nil
}

func (c *Client) forget(op *Operation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ops[op.ID] == op {
		delete(c.ops, op.ID)
		return true
	}
	return false
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close ends the connection and every operation.
func (c *Client) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		deadline())
	c.shutdown(ErrClosed)
	return nil
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		ops := c.ops
		c.ops = make(map[string]*Operation)
		c.mu.Unlock()

		close(c.done)
		c.reader.Stop()
		c.writer.Stop()
		c.conn.Close()
		for _, op := range ops {
			op.end()
		}
	})
}
