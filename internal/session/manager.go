// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session tracks student composition sessions: who is sitting
// which exam, whether they have started or finished, when their time
// runs out, and which push channel their browser is bound to.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNoSession indicates an unknown or evicted session token.
	ErrNoSession = errors.New("no such session")
	// ErrNotStarted indicates the student has not started the composition.
	ErrNotStarted = errors.New("composition not started")
	// ErrEnded indicates the composition was submitted or timed out.
	ErrEnded = errors.New("composition ended")
)

// =============================================================================
// SESSIONS
// =============================================================================

// Kind of composition a session belongs to.
const (
	KindExam   = "exam"
	KindSocrat = "socrat"
)

// Session is one student's composition session.
type Session struct {
	Token     string
	Kind      string
	ExamID    string
	Username  string
	ChannelID string

	Started  bool
	Ended    bool
	Deadline time.Time
}

// Active reports whether actions may still be recorded: started, not
// ended, and inside the time window.
func (s *Session) Active(now time.Time) error {
	if !s.Started {
		return ErrNotStarted
	}
	if s.Ended {
		return ErrEnded
	}
	if !s.Deadline.IsZero() && now.After(s.Deadline) {
		return ErrEnded
	}
	return nil
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is an in-memory session registry keyed by opaque tokens.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a session for a verified student and returns its
// token. The push channel id is minted with the session.
func (m *Manager) Create(kind, examID, username string) *Session {
	s := &Session{
		Token:     uuid.NewString(),
		Kind:      kind,
		ExamID:    examID,
		Username:  username,
		ChannelID: uuid.NewString(),
	}

	m.mu.Lock()
	m.sessions[s.Token] = s
	m.mu.Unlock()
	return s
}

// Get returns a copy of the session for token.
func (m *Manager) Get(token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[token]
	if !ok {
		return nil, ErrNoSession
	}
	copied := *s
	return &copied, nil
}

// MarkStarted records the start of the composition and derives the
// deadline from its duration. Zero duration means no time limit.
func (m *Manager) MarkStarted(token string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return ErrNoSession
	}
	if s.Ended {
		return ErrEnded
	}
	s.Started = true
	if duration > 0 {
		s.Deadline = time.Now().Add(duration)
	}
	return nil
}

// MarkEnded records submission. Idempotent.
func (m *Manager) MarkEnded(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	if !ok {
		return ErrNoSession
	}
	s.Ended = true
	return nil
}

// Remove evicts a session.
func (m *Manager) Remove(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}
