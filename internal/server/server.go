// Package server exposes live statistics over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"firestige.xyz/resmeter/internal/config"
	"firestige.xyz/resmeter/internal/log"
	"firestige.xyz/resmeter/internal/stats"
)

const (
	codeOK    = 0
	codeError = 1
)

// Engine is the part of the statistics engine the server drives.
type Engine interface {
	Snapshot() stats.Snapshot
	Skills(uid uint64) ([]stats.SkillSummary, bool)
	Clear()
	Paused() bool
	SetPaused(paused bool) bool
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg,omitempty"`
}

type dataResponse struct {
	Code int            `json:"code"`
	User stats.Snapshot `json:"user"`
}

type pauseResponse struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg,omitempty"`
	Paused bool   `json:"paused"`
}

type skillResponse struct {
	Code   int                  `json:"code"`
	UID    uint64               `json:"uid"`
	Skills []stats.SkillSummary `json:"skills"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server is the presentation HTTP server.
type Server struct {
	cfg    config.ServerConfig
	engine Engine
	hub    *Hub
	server *http.Server
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a presentation server.
func New(cfg config.ServerConfig, engine Engine) *Server {
	if cfg.BroadcastInterval <= 0 {
		cfg.BroadcastInterval = 50 * time.Millisecond
	}
	return &Server{cfg: cfg, engine: engine, hub: newHub()}
}

// Handler returns the route mux without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/data", s.handleData)
	mux.HandleFunc("GET /api/clear", s.handleClear)
	mux.HandleFunc("GET /api/pause", s.handleGetPause)
	mux.HandleFunc("POST /api/pause", s.handleSetPause)
	mux.HandleFunc("GET /api/skill/{uid}", s.handleSkills)
	mux.HandleFunc("GET /ws", s.handleWS)
	return withRecovery(withCORS(mux))
}

// Start starts listening and broadcasting.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.cfg.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	log.GetLogger().WithField("addr", s.cfg.Listen).Info("starting web server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.GetLogger().WithError(err).Error("web server error")
		}
	}()

	bctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.broadcastLoop(bctx)
	}()
	return nil
}

// Stop disconnects viewers and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.cancel()
	<-s.done
	s.hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("web server shutdown failed: %w", err)
	}
	log.GetLogger().Info("web server stopped")
	return nil
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// broadcastLoop pushes the snapshot to all viewers until ctx ends.
// Nothing is sent while statistics are paused.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast()
		}
	}
}

func (s *Server) broadcast() {
	if s.engine.Paused() || s.hub.Len() == 0 {
		return
	}
	msg, err := json.Marshal(dataResponse{Code: codeOK, User: s.engine.Snapshot()})
	if err != nil {
		log.GetLogger().WithError(err).Warn("failed to encode snapshot")
		return
	}
	s.hub.Broadcast(msg)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dataResponse{Code: codeOK, User: s.engine.Snapshot()})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	s.engine.Clear()
	writeJSON(w, http.StatusOK, response{Code: codeOK, Msg: "Statistics have been cleared!"})
}

func (s *Server) handleGetPause(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, pauseResponse{Code: codeOK, Paused: s.engine.Paused()})
}

func (s *Server) handleSetPause(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Paused *bool `json:"paused"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Paused == nil {
		writeJSON(w, http.StatusBadRequest, response{Code: codeError, Msg: "request body must be {\"paused\": bool}"})
		return
	}
	paused := s.engine.SetPaused(*body.Paused)
	msg := "Statistics resumed!"
	if paused {
		msg = "Statistics paused!"
	}
	writeJSON(w, http.StatusOK, pauseResponse{Code: codeOK, Msg: msg, Paused: paused})
}

func (s *Server) handleSkills(w http.ResponseWriter, r *http.Request) {
	uid, err := strconv.ParseUint(r.PathValue("uid"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, response{Code: codeError, Msg: "invalid uid"})
		return
	}
	skills, ok := s.engine.Skills(uid)
	if !ok {
		writeJSON(w, http.StatusNotFound, response{Code: codeError, Msg: "player not found"})
		return
	}
	writeJSON(w, http.StatusOK, skillResponse{Code: codeOK, UID: uid, Skills: skills})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.GetLogger().WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.hub.attach(conn)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().WithError(err).Debug("failed to write response")
	}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				log.GetLogger().WithField("path", r.URL.Path).WithField("panic", p).Error("handler panic")
				writeJSON(w, http.StatusInternalServerError, response{Code: codeError, Msg: "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}
