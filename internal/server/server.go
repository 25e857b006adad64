// Package server exposes the chat host over HTTP: a websocket endpoint that
// runs one host.Conn per connection and a small JSON API over the session
// store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/casualjim/hoot/host"
	"github.com/casualjim/hoot/internal/broker"
	"github.com/casualjim/hoot/pkg/slogx"
	"github.com/casualjim/hoot/session"
	"github.com/fogfish/opts"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/strfmt"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
)

// Server serves the websocket endpoint and the session API.
type Server struct {
	ctx      context.Context
	chat     host.Chatter
	store    *session.Store
	turns    *host.Turns
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

var (
	WithLogger = opts.ForName[Server, *slog.Logger]("logger")
	// WithTurns shares the running turns with host connections served
	// elsewhere, e.g. over NATS.
	WithTurns = opts.ForName[Server, *host.Turns]("turns")
)

// WithCheckOrigin overrides the websocket origin check.
func WithCheckOrigin(fn func(*http.Request) bool) opts.Option[Server] {
	return opts.Type[Server](func(s *Server) error {
		s.upgrader.CheckOrigin = fn
		return nil
	})
}

// New creates a server. Connections are closed when ctx is done.
func New(ctx context.Context, chat host.Chatter, store *session.Store, options ...opts.Option[Server]) *Server {
	s := &Server{
		ctx:   ctx,
		chat:  chat,
		store: store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
	if err := opts.Apply(s, options); err != nil {
		panic(fmt.Sprintf("server: invalid options: %v", err))
	}
	if s.turns == nil {
		s.turns = host.NewTurns()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With(slogx.LoggerName("server"))
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/ws", s.handleWebSocket)
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleListSessions)
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Patch("/{id}", s.handleRenameSession)
		r.Delete("/{id}", s.handleDeleteSession)
	})
	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slogx.Error(err))
		return
	}
	ws := broker.WebSocket(conn, s.logger)
	defer ws.Close()

	hc := host.NewConn(s.ctx, s.chat, ws,
		host.WithLogger(s.logger),
		host.WithID(middleware.GetReqID(r.Context())),
		host.WithTurns(s.turns),
	)
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	go func() {
		select {
		case <-ws.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	s.logger.Debug("websocket connected", slog.String("conn", hc.ID()))
	if err := hc.Serve(ctx, ws); err != nil {
		s.logger.Warn("websocket connection failed", slogx.Error(err), slog.String("conn", hc.ID()))
	}
}

// Summary describes a session without its messages.
type Summary struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	CreatedAt strfmt.DateTime `json:"createdAt"`
	UpdatedAt strfmt.DateTime `json:"updatedAt"`
	Messages  int             `json:"messages"`
	Active    bool            `json:"active,omitempty"`
}

type titleBody struct {
	Title string `json:"title"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	active := s.store.Active()
	sessions := s.store.List()
	out := make([]Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, Summary{
			ID:        sess.ID,
			Title:     sess.Title,
			CreatedAt: sess.CreatedAt,
			UpdatedAt: sess.UpdatedAt,
			Messages:  len(sess.Messages),
			Active:    sess.ID == active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body titleBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	sess, err := s.store.Create(r.Context(), body.Title)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var body titleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.store.Rename(r.Context(), id, body.Title); err != nil {
		s.writeStoreError(w, err)
		return
	}
	sess, _ := s.store.Get(id)
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	s.logger.Error("session store failed", slogx.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "session store failed")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"code":    http.StatusText(status),
			"message": message,
		},
	})
}
