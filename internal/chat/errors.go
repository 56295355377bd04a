// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrMissingPrompt is returned when a prompt dispatch carries no
	// prompt text at all.
	ErrMissingPrompt = errors.New("no prompt provided")

	// ErrNotConnected is returned when an operation requires a
	// connected backend.
	ErrNotConnected = errors.New("backend not connected")

	// ErrManagerStopped is returned when a prompt is dispatched after
	// the manager has shut down.
	ErrManagerStopped = errors.New("chat manager stopped")

	// ErrTurnFinal is returned by the store when a delta arrives for a
	// conversation turn that already received its terminal fragment.
	ErrTurnFinal = errors.New("conversation turn already final")
)

// =============================================================================
// TYPED ERRORS
// =============================================================================

// UnknownChatError is returned when a prompt names a backend key that
// no registered handler serves.
type UnknownChatError struct {
	ChatKey string
}

// Error implements the error interface.
func (e *UnknownChatError) Error() string {
	return fmt.Sprintf("unknown chat backend: %q", e.ChatKey)
}

// BackendError wraps a failure reported by a backend while streaming,
// preserving the correlation id so the caller can trace the turn.
type BackendError struct {
	ChatKey  string
	ActionID string
	Err      error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s failed for turn %s: %v", e.ChatKey, e.ActionID, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}
