// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"log"
	"sync/atomic"
)

// =============================================================================
// COPY/PASTE HANDLER
// =============================================================================

// Backend keys of the built-in adapters.
const (
	KeyCopyPaste = "COPYPASTE"
	KeyLocalAI   = "LOCALAI"
	KeyOpenAI    = "OPENAI"
)

// DefaultModelKey is the sentinel model of backends that expose no
// real model choice.
const DefaultModelKey = "DFLT"

// CopyPasteHandler is the pass-through backend for externally obtained
// transcripts. Students converse with an AI outside the platform and
// paste the exchange in; the handler never generates content, it only
// acknowledges each recorded turn with an immediate terminal fragment
// so the turn reaches finality like any other.
type CopyPasteHandler struct {
	name      string
	queue     chan<- Fragment
	connected atomic.Bool
}

// NewCopyPasteHandler creates a pass-through handler producing onto queue.
func NewCopyPasteHandler(name string, queue chan<- Fragment) *CopyPasteHandler {
	return &CopyPasteHandler{name: name, queue: queue}
}

// Key returns the backend identifier.
func (h *CopyPasteHandler) Key() string { return KeyCopyPaste }

// Name returns the display name.
func (h *CopyPasteHandler) Name() string { return h.name }

// ModelName returns the display name of the sentinel model.
func (h *CopyPasteHandler) ModelName() string { return h.name }

// CopyPaste reports true: this backend records pasted transcripts.
func (h *CopyPasteHandler) CopyPaste() bool { return true }

// PrivateKeyRequired reports false: no upstream API is involved.
func (h *CopyPasteHandler) PrivateKeyRequired() bool { return false }

// Connected reports whether Connect has been called.
func (h *CopyPasteHandler) Connected() bool { return h.connected.Load() }

// Connect is immediate: there is nothing to reach.
func (h *CopyPasteHandler) Connect(ctx context.Context) error {
	h.connected.Store(true)
	return nil
}

// Disconnect marks the handler unavailable.
func (h *CopyPasteHandler) Disconnect() error {
	h.connected.Store(false)
	return nil
}

// RequestAvailableModels publishes the single sentinel model.
func (h *CopyPasteHandler) RequestAvailableModels(ctx context.Context) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}
	h.queue <- modelFragment(KeyCopyPaste, DefaultModelKey, h.name, true)
	return nil
}

// SendPrompt acknowledges the recorded turn with a single terminal
// fragment carrying no delta. The pasted content already lives in the
// persisted turn's prompt. A model key other than the sentinel is not
// ours: no fragment is produced and the turn is left untouched.
func (h *CopyPasteHandler) SendPrompt(ctx context.Context, req PromptRequest) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}
	if req.Action.ModelKey != DefaultModelKey {
		log.Printf("COPYPASTE_UNKNOWN_MODEL | action_id=%s model_key=%s", req.Action.ID, req.Action.ModelKey)
		return nil
	}
	h.queue <- answerFragment(KeyCopyPaste, DefaultModelKey, req.Tag(), nil, true)
	return nil
}
