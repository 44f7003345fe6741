// Package server assembles a livekit process: event channels, domain
// services, the live query store, the schema and the HTTP routes.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/graphql-go/graphql"

	"github.com/panyam/livekit/config"
	"github.com/panyam/livekit/gqlctx"
	"github.com/panyam/livekit/gqlws"
	gohttp "github.com/panyam/livekit/http"
	"github.com/panyam/livekit/livequery"
	"github.com/panyam/livekit/logging"
	"github.com/panyam/livekit/metrics"
	"github.com/panyam/livekit/pubsub"
	"github.com/panyam/livekit/schema"
	"github.com/panyam/livekit/services/chat"
	"github.com/panyam/livekit/services/notes"
	"github.com/panyam/livekit/services/splash"
	"github.com/panyam/livekit/services/user"
	"github.com/panyam/livekit/session"
)

// Options configure New. Config is required.
type Options struct {
	Config  *config.Config
	Logger  logging.Logger
	Metrics *metrics.Metrics

	// Resolve defaults to session.FromRequest.
	Resolve session.Resolver
}

// Server owns every process-wide instance. They are created once in New and
// released in Close.
type Server struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *metrics.Metrics

	db     *sql.DB
	schema graphql.Schema

	Invalidations *pubsub.Channel[livequery.Invalidation]
	NotesUpdates  *pubsub.Channel[notes.NotesUpdatesPayload]
	NoteUpdate    *pubsub.Channel[notes.NoteUpdatePayload]
	ChatMessages  *pubsub.Channel[chat.Message]

	Store    *livequery.Store
	Sessions *session.MemoryStore
	Chat     *chat.Chat
	Presence *user.Presence
	Notes    *notes.Service
	Splash   *splash.State

	Handler *gqlws.Handler
}

// New opens the notes database and wires everything together.
func New(ctx context.Context, opts Options) (*Server, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	resolve := opts.Resolve
	if resolve == nil {
		resolve = session.FromRequest
	}

	gqlSchema, err := schema.New()
	if err != nil {
		return nil, fmt.Errorf("server: build schema: %w", err)
	}
	db, err := notes.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: opts.Metrics,
		db:      db,
		schema:  gqlSchema,
	}
	chOpts := []pubsub.Option{
		pubsub.WithBuffer(cfg.ChannelBuffer),
		pubsub.WithLogger(logger),
		pubsub.WithMetrics(opts.Metrics),
	}
	s.Invalidations = pubsub.New[livequery.Invalidation]("invalidations", chOpts...)
	s.NotesUpdates = pubsub.New[notes.NotesUpdatesPayload]("notesUpdates", chOpts...)
	s.NoteUpdate = pubsub.New[notes.NoteUpdatePayload]("noteUpdate", chOpts...)
	s.ChatMessages = pubsub.New[chat.Message]("chatMessages", chOpts...)

	s.Store = livequery.NewStore(livequery.SchemaExecutor(gqlSchema), s.Invalidations,
		livequery.WithLogger(logger),
		livequery.WithMetrics(opts.Metrics),
		livequery.WithSubscriber(livequery.SchemaSubscriber(gqlSchema)),
	)
	s.Sessions = session.NewMemoryStore()
	s.Chat = chat.New(chat.DefaultHistory, s.ChatMessages, s.Store)
	s.Presence = user.NewPresence(user.Hooks{
		Connected: func(name string) {
			s.Chat.AddOperationalMessage(fmt.Sprintf("**%s** connected.", name))
		},
		Disconnected: func(name string) {
			s.Chat.AddOperationalMessage(fmt.Sprintf("**%s** disconnected.", name))
		},
	}, s.Store)
	s.Notes = notes.NewService(db, notes.Deps{
		NotesUpdates: s.NotesUpdates,
		NoteUpdate:   s.NoteUpdate,
		Invalidator:  s.Store,
		Logger:       logger,
	})
	s.Splash = splash.New(s.Store)

	s.Handler = &gqlws.Handler{
		Resolve:  resolve,
		Sessions: s.Sessions,
		Builder: &gqlctx.Builder{
			Sessions: s.Sessions,
			Shared: gqlctx.Shared{
				Chat:         s.Chat,
				Users:        s.Presence,
				Notes:        s.Notes,
				Splash:       s.Splash,
				NotesUpdates: s.NotesUpdates,
				NoteUpdate:   s.NoteUpdate,
				ChatMessages: s.ChatMessages,
				LiveQueries:  s.Store,
			},
		},
		Store:            s.Store,
		Presence:         s.Presence,
		Logger:           logger,
		Metrics:          opts.Metrics,
		OperationTimeout: cfg.OperationTimeout,
	}
	return s, nil
}

// WSConfig returns the WebSocket settings derived from the config.
func (s *Server) WSConfig() *gohttp.WSConnConfig {
	return gohttp.NewWSConnConfig(&gohttp.BiDirStreamConfig{
		PingPeriod: s.cfg.PingPeriod,
		PongPeriod: s.cfg.PongPeriod,
	}, func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || s.cfg.OriginAllowed(origin)
	})
}

// Router serves:
//
//	GET  /graphql   WebSocket operations
//	POST /graphql   one-shot operations
//	POST /announce  operational chat message (?msg=)
//	GET  /metrics   Prometheus
//	GET  /healthz   liveness
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/graphql", gohttp.WSServe(s.Handler, s.WSConfig())).
		Methods(http.MethodGet).
		HeadersRegexp("Upgrade", "(?i)websocket")
	r.HandleFunc("/graphql", s.Handler.ServeQuery).Methods(http.MethodPost)
	r.HandleFunc("/announce", s.announce).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	return r
}

func (s *Server) announce(w http.ResponseWriter, r *http.Request) {
	msg := r.URL.Query().Get("msg")
	if msg == "" {
		http.Error(w, "msg is required", http.StatusBadRequest)
		return
	}
	gohttp.SendJsonResponse(w, s.Chat.AddOperationalMessage(msg), nil)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.WithError(err).Warn("Health check failed")
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	gohttp.SendJsonResponse(w, map[string]any{
		"status":      "ok",
		"liveQueries": s.Store.Len(),
		"sessions":    s.Sessions.Len(),
	}, nil)
}

// ListenAndServe serves Router on the configured address until ctx is done,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Addr).Info("Starting livekit server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down livekit server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; closing the
	// store and channels below ends their operations.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases the store, the channels and the database.
func (s *Server) Close() error {
	s.Store.Close()
	s.Invalidations.Close()
	s.NotesUpdates.Close()
	s.NoteUpdate.Close()
	s.ChatMessages.Close()
	return s.db.Close()
}
