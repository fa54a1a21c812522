// Package ws implements the WebSocket event stream. Clients connect,
// optionally filter by run, and receive run progress events as JSON text
// frames as the orchestrator publishes them.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"

	"github.com/bassmang/kiongozi/internal/config"
	"github.com/bassmang/kiongozi/internal/events"
)

// Server streams broker events to WebSocket subscribers.
type Server struct {
	broker *events.Broker
	cfg    *config.WebSocketGatewayConfig
	logger *slog.Logger
}

// NewServer creates a WebSocket event stream server.
func NewServer(broker *events.Broker, cfg *config.WebSocketGatewayConfig, logger *slog.Logger) *Server {
	return &Server{
		broker: broker,
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	// Authenticate subscriber via token.
	if s.cfg != nil && s.cfg.Token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token != s.cfg.Token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	// Optional filter: only events for one run.
	runID := r.URL.Query().Get("run_id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{"kiongozi-events-v1"},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn, runID)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn, runID string) {
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	ch, cancel := s.broker.Subscribe()
	defer cancel()

	s.logger.Info("event subscriber connected", slog.String("run_id", runID))

	// Reading from the connection detects client disconnects; subscribers
	// send nothing, so any payload is ignored.
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readDone:
			s.logger.Info("event subscriber disconnected", slog.String("run_id", runID))
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if runID != "" && ev.RunID != runID {
				continue
			}
			if err := s.writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("event write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

func (s *Server) writeEvent(ctx context.Context, conn *websocket.Conn, ev events.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
