package gqlws

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/metrics"
)

// Emitter writes one message to the client.
type Emitter func(Message)

// MuxConfig carries the collaborators of a Mux.
type MuxConfig struct {
	Store   *livequery.Store
	Context *gqlctx.Lazy
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// OperationTimeout bounds one-shot operations. Zero means no limit.
	OperationTimeout time.Duration
}

type operation struct {
	id     string
	mode   livequery.Mode
	cancel context.CancelFunc
	stream *livequery.Stream
}

// Mux runs the operations of a single connection. It does not know about
// the transport: incoming envelopes are passed to Handle and outgoing
// messages go to the Emitter.
type Mux struct {
	connID string
	emit   Emitter
	cfg    MuxConfig

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	ops    map[string]*operation
	closed bool
}

// NewMux creates the multiplexer of connection connID.
func NewMux(connID string, emit Emitter, cfg MuxConfig) *Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mux{
		connID: connID,
		emit:   emit,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		ops:    make(map[string]*operation),
	}
}

// Handle processes one client envelope.
func (m *Mux) Handle(env Envelope) {
	switch env.Type {
	case TypeExecute:
		m.execute(env)
	case TypeStop:
		m.Stop(env.ID)
	case TypePing:
		m.send(Message{Type: TypePong, PingId: env.PingId})
	case TypePong:
		// heartbeat only
	default:
		m.send(errorMessage(env.ID, status.Errorf(codes.InvalidArgument, "unknown message type %q", env.Type)))
	}
}

// Reject reports a precondition failure for id without touching any
// operation.
func (m *Mux) Reject(id string, err error) {
	m.send(errorMessage(id, err))
}

func (m *Mux) execute(env Envelope) {
	if env.ID == "" {
		m.reject("", "", status.Error(codes.InvalidArgument, "operation id is required"))
		return
	}
	if env.Payload == nil {
		m.reject(env.ID, "", status.Error(codes.InvalidArgument, "operation payload is required"))
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, busy := m.ops[env.ID]; busy {
		m.rejectLocked(env.ID, "", status.Errorf(codes.AlreadyExists, "operation %q is already active", env.ID))
		m.mu.Unlock()
		return
	}
	values, err := m.cfg.Context.Get()
	if err != nil {
		m.rejectLocked(env.ID, "", status.Error(codes.FailedPrecondition, err.Error()))
		m.mu.Unlock()
		return
	}
	doc, err := livequery.Classify(*env.Payload)
	if err != nil {
		m.rejectLocked(env.ID, "", status.Error(codes.InvalidArgument, err.Error()))
		m.mu.Unlock()
		return
	}

	ctx := gqlctx.With(m.ctx, values)
	var cancel context.CancelFunc
	if doc.Mode == livequery.ModeOneShot && m.cfg.OperationTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, m.cfg.OperationTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	op := &operation{id: env.ID, mode: doc.Mode, cancel: cancel}
	m.ops[env.ID] = op
	m.mu.Unlock()

	m.cfg.Metrics.Operation(doc.Mode.String(), "accepted")
	m.cfg.Logger.WithFields(logging.Fields{
		"conn_id":      m.connID,
		"operation_id": env.ID,
		"mode":         doc.Mode.String(),
	}).Debug("Starting operation")
	go m.run(ctx, op, doc)
}

func (m *Mux) run(ctx context.Context, op *operation, doc *livequery.Document) {
	defer op.cancel()

	stream, err := m.cfg.Store.ExecuteDocument(ctx, m.key(op.id), doc)
	if err != nil {
		m.finish(op, errorMessage(op.id, executeStatus(err)))
		return
	}
	if !m.attach(op, stream) {
		stream.Cancel()
		return
	}
	defer stream.Cancel()

	for {
		res, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				m.finish(op, Message{Type: TypeComplete, ID: op.id})
			case errors.Is(ctx.Err(), context.DeadlineExceeded):
				m.finish(op, errorMessage(op.id, status.Error(codes.DeadlineExceeded, "operation timed out")))
			default:
				m.forget(op)
			}
			return
		}
		if op.mode == livequery.ModeOneShot {
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				m.finish(op, errorMessage(op.id, status.Error(codes.DeadlineExceeded, "operation timed out")))
			} else {
				m.finish(op, Message{Type: TypeResult, ID: op.id, Payload: res, Final: true})
			}
			return
		}
		m.deliver(op, Message{Type: TypeResult, ID: op.id, Payload: res})
	}
}

func executeStatus(err error) error {
	switch {
	case errors.Is(err, livequery.ErrDuplicateKey):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, livequery.ErrSubscriptionsUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, livequery.ErrInvalidDocument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, livequery.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// key makes an operation id unique across connections.
func (m *Mux) key(id string) string {
	return m.connID + "/" + id
}

// attach records the stream of a running operation so Stop and Close can
// release it directly. It fails if the operation was stopped meanwhile.
func (m *Mux) attach(op *operation, stream *livequery.Stream) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ops[op.id] != op {
		return false
	}
	op.stream = stream
	return true
}

// deliver emits msg if op is still the active operation under its id.
// Emitting under the lock means nothing is sent for op once Stop returns.
func (m *Mux) deliver(op *operation, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ops[op.id] != op {
		return
	}
	m.emit(msg)
}

// finish forgets op and then emits its last message.
func (m *Mux) finish(op *operation, msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.ops[op.id] != op {
		return
	}
	delete(m.ops, op.id)
	m.emit(msg)
	outcome := "completed"
	if msg.Type == TypeError {
		outcome = "failed"
	}
	m.cfg.Metrics.Operation(op.mode.String(), outcome)
}

func (m *Mux) forget(op *operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ops[op.id] == op {
		delete(m.ops, op.id)
	}
}

// Stop cancels the operation running under id. Unknown ids are ignored.
func (m *Mux) Stop(id string) {
	m.mu.Lock()
	op, ok := m.ops[id]
	if ok {
		delete(m.ops, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.release(op)
	m.cfg.Metrics.Operation(op.mode.String(), "stopped")
	m.cfg.Logger.WithFields(logging.Fields{
		"conn_id":      m.connID,
		"operation_id": id,
	}).Debug("Stopped operation")
}

// Close cancels every operation. Nothing is emitted afterwards. Safe to call
// more than once.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ops := m.ops
	m.ops = make(map[string]*operation)
	m.mu.Unlock()

	for _, op := range ops {
		m.release(op)
	}
	m.cancel()
	m.cfg.Logger.WithFields(logging.Fields{
		"conn_id":    m.connID,
		"operations": len(ops),
	}).Debug("Closed operation multiplexer")
}

func (m *Mux) release(op *operation) {
	op.cancel()
	m.mu.Lock()
	stream := op.stream
	m.mu.Unlock()
	if stream != nil {
		stream.Cancel()
	}
}

// Active returns the number of running operations.
func (m *Mux) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ops)
}

// Has reports whether id is running.
func (m *Mux) Has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ops[id]
	return ok
}

func (m *Mux) send(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.emit(msg)
	}
}

func (m *Mux) reject(id, mode string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejectLocked(id, mode, err)
}

func (m *Mux) rejectLocked(id, mode string, err error) {
	if m.closed {
		return
	}
	if mode == "" {
		mode = "unknown"
	}
	m.cfg.Metrics.Operation(mode, "rejected")
	m.cfg.Logger.WithError(err).WithFields(logging.Fields{
		"conn_id":      m.connID,
		"operation_id": id,
	}).Debug("Rejected operation")
	m.emit(errorMessage(id, err))
}
