package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/backsim/internal/config"
	"github.com/rickgao/backsim/internal/epoch"
	"github.com/rickgao/backsim/internal/metrics"
	"github.com/rickgao/backsim/internal/protocol"
	"github.com/rickgao/backsim/internal/router"
	"github.com/rickgao/backsim/internal/session"
)

const defaultWriteTimeout = 10 * time.Second

// Server accepts WebSocket connections and runs the per-connection
// read/dispatch/write loops.
type Server struct {
	cfg     config.ListenConfig
	router  *router.Router
	conv    epoch.Converter
	metrics *metrics.Metrics
	logger  *slog.Logger

	upgrader websocket.Upgrader
	httpSrv  *http.Server
}

// New creates a Server. Connections adopt conv as their time
// representation; m may be nil.
func New(cfg config.ListenConfig, rt *router.Router, conv epoch.Converter, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		router:  rt,
		conv:    conv,
		metrics: m,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Simulated clients are local tooling, not browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handleWS)
	return mux
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpSrv = &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("server listening", "addr", addr, "path", s.cfg.Path)
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight ones up
// to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	s.logger.Info("server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	logger := s.logger.With("conn", uuid.NewString())

	s.metrics.ConnOpened()
	logger.Info("connection opened", "remote", r.RemoteAddr)
	defer func() {
		s.metrics.ConnClosed()
		logger.Info("connection closed", "remote", r.RemoteAddr)
	}()

	s.serve(r.Context(), ws, logger)
}

// serve runs one connection to completion. The dispatch loop is the
// sole writer of session state; the replay loop drains queued requests
// between batches through the interleave hook, so every handler still
// runs on this goroutine.
func (s *Server) serve(ctx context.Context, ws *websocket.Conn, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := session.NewConn(s.conv, logger)
	defer sess.Close()

	bufSize := s.cfg.SendBuffer
	if bufSize < 1 {
		bufSize = 64
	}
	inbound := NewQueue[[]byte](bufSize)
	outbound := NewQueue[protocol.Frame](bufSize)

	// Read loop: transport close cancels everything downstream.
	go func() {
		defer cancel()
		defer inbound.Close()
		for {
			_, data, err := ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("read loop ended", "error", err)
				}
				return
			}
			inbound.Push(data)
		}
	}()

	// Write loop: the single writer to the transport.
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		timeout := s.cfg.WriteTimeout
		if timeout <= 0 {
			timeout = defaultWriteTimeout
		}
		for {
			frame, ok := outbound.Pop()
			if !ok {
				return
			}
			data, err := json.Marshal(frame)
			if err != nil {
				logger.Error("marshal frame", "error", err)
				continue
			}
			ws.SetWriteDeadline(time.Now().Add(timeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debug("write loop ended", "error", err)
				cancel()
				return
			}
			s.metrics.FrameOut()
		}
	}()

	emit := func(f protocol.Frame) {
		if f.Type == protocol.TypeError && f.Error != nil {
			s.metrics.Error(f.Error.Code)
		}
		outbound.Push(f)
	}

	// interleave serves requests queued while a replay batch streamed.
	// A drained request cannot start a second replay (the slot is
	// held), so the recursion is bounded.
	var interleave func()
	interleave = func() {
		for {
			data, ok := inbound.TryPop()
			if !ok {
				return
			}
			s.router.Dispatch(ctx, sess, data, emit, interleave)
		}
	}

	for {
		data, ok := inbound.Pop()
		if !ok {
			break
		}
		s.router.Dispatch(ctx, sess, data, emit, interleave)
	}

	outbound.Close()
	<-writeDone
	ws.Close()
}
