// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// STUDENT ACCESS TICKETS
// =============================================================================

// Ticket kinds: which composition type the ticket grants access to.
const (
	TicketExam   = "exam"
	TicketSocrat = "socrat"
)

var (
	// ErrInvalidTicket indicates a malformed or tampered ticket.
	ErrInvalidTicket = errors.New("invalid ticket")
	// ErrTicketExpired indicates the ticket is past its validity window.
	ErrTicketExpired = errors.New("ticket expired")
)

// Ticket grants one student access to one composition. Tickets travel
// in URLs, so the serialized form is URL-safe base64.
type Ticket struct {
	Kind     string    `json:"kind"`
	ExamID   string    `json:"exam_id"`
	Username string    `json:"username"`
	Issued   time.Time `json:"issued"`
}

// TicketSigner signs and verifies student access tickets with
// HMAC-SHA-256.
type TicketSigner struct {
	key    []byte
	maxAge time.Duration
}

// NewTicketSigner creates a signer keyed on the application secret.
// maxAge of zero means tickets never expire.
func NewTicketSigner(secret string, maxAge time.Duration) (*TicketSigner, error) {
	if secret == "" {
		return nil, errors.New("empty application secret")
	}
	return &TicketSigner{key: []byte(secret), maxAge: maxAge}, nil
}

// Sign serializes and signs a ticket. The result is payload.signature
// with both parts URL-safe base64.
func (s *TicketSigner) Sign(t Ticket) (string, error) {
	if t.Issued.IsZero() {
		t.Issued = time.Now().UTC()
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("failed to encode ticket: %w", err)
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + s.signature(encoded), nil
}

// Verify checks a serialized ticket's signature and validity window
// and returns the decoded ticket.
func (s *TicketSigner) Verify(serialized string) (*Ticket, error) {
	encoded, sig, found := strings.Cut(serialized, ".")
	if !found {
		return nil, ErrInvalidTicket
	}
	if !hmac.Equal([]byte(sig), []byte(s.signature(encoded))) {
		return nil, ErrInvalidTicket
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrInvalidTicket
	}
	var t Ticket
	if err := json.Unmarshal(payload, &t); err != nil {
		return nil, ErrInvalidTicket
	}

	if s.maxAge > 0 && time.Since(t.Issued) > s.maxAge {
		return nil, ErrTicketExpired
	}
	return &t, nil
}

// signature computes the URL-safe HMAC of the encoded payload.
func (s *TicketSigner) signature(encoded string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
