// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the examgate HTTP API: student ticket login,
// action recording with chat AI dispatch, server-sent events for
// streamed answers, backend listings and exam management.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/examgate/internal/chat"
	"github.com/jeranaias/examgate/internal/config"
	"github.com/jeranaias/examgate/internal/push"
	"github.com/jeranaias/examgate/internal/security"
	"github.com/jeranaias/examgate/internal/session"
	"github.com/jeranaias/examgate/internal/store"
)

// =============================================================================
// SERVER
// =============================================================================

// sessionHeader carries the student's session token.
const sessionHeader = "X-Session-Token"

// Server wires the HTTP edge to the chat manager, store, push hub and
// session registry.
type Server struct {
	cfg      *config.Config
	store    *store.Store
	manager  *chat.Manager
	hub      *push.Hub
	sessions *session.Manager
	cipher   *security.KeyCipher
	signer   *security.TicketSigner

	httpServer *http.Server
}

// New assembles the server around its collaborators.
func New(cfg *config.Config, st *store.Store, manager *chat.Manager, hub *push.Hub,
	sessions *session.Manager, cipher *security.KeyCipher, signer *security.TicketSigner) *Server {

	s := &Server{
		cfg:      cfg,
		store:    st,
		manager:  manager,
		hub:      hub,
		sessions: sessions,
		cipher:   cipher,
		signer:   signer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/student/login", s.handleStudentLogin)
	mux.HandleFunc("POST /api/student/actions", s.handleStudentAction)
	mux.HandleFunc("GET /api/student/events", s.handleStudentEvents)
	mux.HandleFunc("GET /api/student/context", s.handleStudentContext)
	mux.HandleFunc("GET /api/student/chats", s.handleStudentChats)

	mux.HandleFunc("GET /api/chats", s.handleAvailableChats)
	mux.HandleFunc("GET /api/exams/{id}/chats", s.handleExamChoices)
	mux.HandleFunc("GET /api/socrats/{id}/chats", s.handleQuestionnaireChoices)

	mux.HandleFunc("POST /api/student/resources/{id}/remove", s.handleRemoveResource)

	mux.HandleFunc("POST /api/exams", s.handleCreateExam)
	mux.HandleFunc("GET /api/exams", s.handleListExams)
	mux.HandleFunc("GET /api/exams/{id}", s.handleGetExam)
	mux.HandleFunc("POST /api/exams/{id}/tickets", s.handleExamTickets)
	mux.HandleFunc("GET /api/exams/{id}/students/{username}/actions", s.handleStudentActions)

	mux.HandleFunc("POST /api/socrats", s.handleCreateSocrat)
	mux.HandleFunc("GET /api/socrats/{id}", s.handleGetSocrat)

	mux.HandleFunc("GET /healthz", s.handleHealth)

	chain := Chain(
		RecoveryMiddleware(),
		SecurityHeadersMiddleware(),
		LoggingMiddleware(),
		RateLimitMiddleware(cfg.Server.RateLimitPerSecond, cfg.Server.RateLimitBurst),
	)

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           chain(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the composed HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then drains with a bounded
// shutdown window.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("SERVER_START | addr=%s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Printf("SERVER_STOP |")
	return <-errCh
}

// =============================================================================
// HEALTH
// =============================================================================

// handleHealth answers liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// JSON HELPERS
// =============================================================================

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("RESPONSE_ENCODE_ERROR | err=%v", err)
	}
}

// decodeBody decodes a JSON request body into out.
func decodeBody(r *http.Request, out any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxActionBody))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// currentSession resolves the session token header. A nil return means
// the response has already been written.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) *session.Session {
	token := r.Header.Get(sessionHeader)
	if token == "" {
		token = r.URL.Query().Get("session")
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing session token")
		return nil
	}
	sess, err := s.sessions.Get(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unknown session")
		return nil
	}
	return sess
}
