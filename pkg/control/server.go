// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package control

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// Server binds a Handler to HTTP.
type Server struct {
	handler  *Handler
	router   *mux.Router
	upgrader websocket.Upgrader

	httpServer *http.Server
	listener   net.Listener
}

// NewServer for a Handler on the address, e.g., ":8080".
func NewServer(address string, handler *Handler) *Server {
	s := &Server{
		handler: handler,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/capabilities", s.handleCapabilities).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions", s.handleSessions).Methods(http.MethodGet)
	s.router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ServeHTTP makes the Server usable as a http.Handler, e.g., in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listening in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	log.WithField("address", ln.Addr()).Info("Control server listens")

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Warn("Control server errored")
		}
	}()
	return nil
}

// Addr of the listening Server, nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close the HTTP server. The Handler's sessions are left untouched.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

// handleWebSocket answers each Request of one controller connection in order.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("Upgrading HTTP request to WebSocket errored")
		return
	}
	defer func() { _ = conn.Close() }()

	logger := log.WithField("controller", conn.RemoteAddr())
	logger.Info("Controller connected")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.WithError(err).Info("Controller disconnected")
			return
		}

		var req Request
		if err := json.Unmarshal(msg, &req); err != nil {
			logger.WithError(err).Warn("Received malformed control request")
			resp := Response{Type: TypeError, Data: ErrorResponse{Message: "malformed request: " + err.Error()}}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			continue
		}

		if err := conn.WriteJSON(s.handler.Handle(req)); err != nil {
			logger.WithError(err).Warn("Failed to write control response")
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write REST response")
	}
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.handler.Capabilities())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.handler.Sessions()
	if sessions == nil {
		sessions = []SessionInfo{}
	}
	writeJSON(w, sessions)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	records, err := s.handler.History()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]\n"))
		return
	}
	writeJSON(w, records)
}
