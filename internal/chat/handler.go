// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"

	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// HANDLER INTERFACE
// =============================================================================

// Handler is one chat AI backend adapter. Implementations produce all
// asynchronous results as Fragment values on the queue they were
// constructed with; none of their methods return streamed content
// directly.
//
// Connect may complete asynchronously: callers poll Connected after
// calling it. SendPrompt returns once the request is accepted for
// streaming; errors detected before any fragment is produced are
// returned synchronously, errors detected mid-stream surface as a
// synthetic terminal fragment so the turn always completes.
type Handler interface {
	// Key is the stable backend identifier (e.g. "OPENAI").
	Key() string
	// Name is the human-readable backend name.
	Name() string
	// ModelName is the display name used for discovered models.
	ModelName() string
	// CopyPaste reports whether this backend is a pass-through that
	// records externally obtained transcripts.
	CopyPaste() bool
	// PrivateKeyRequired reports whether prompts need a per-exam API key.
	PrivateKeyRequired() bool
	// Connected reports whether the backend is ready for prompts.
	Connected() bool

	// Connect establishes the backend link.
	Connect(ctx context.Context) error
	// Disconnect tears the link down. Idempotent.
	Disconnect() error

	// RequestAvailableModels triggers model discovery. Results arrive
	// as model fragments on the queue, the last one marked ended.
	RequestAvailableModels(ctx context.Context) error

	// SendPrompt dispatches one student prompt for streaming.
	SendPrompt(ctx context.Context, req PromptRequest) error
}

// PromptRequest carries one prompt dispatch to a handler.
type PromptRequest struct {
	// Action is the already persisted conversation turn. Its ID is
	// the correlation id for every fragment of this exchange.
	Action *model.AskChatAI

	// ChannelID addresses the student's push channel for streamed
	// deltas.
	ChannelID string

	// PrivateKey is the decrypted per-exam API key, empty when the
	// backend does not require one.
	PrivateKey string
}

// Tag derives the fragment correlation tag for this request.
func (r *PromptRequest) Tag() RequestTag {
	return RequestTag{
		ActionID:    r.Action.ID,
		ChannelID:   r.ChannelID,
		QuestionIdx: r.Action.QuestionIdx,
		ChatID:      r.Action.ChatID,
	}
}

// History provides prior conversation turns so multi-turn backends can
// rebuild context. Implemented by the store.
type History interface {
	// LastChatInteractions returns the student's prior turns for one
	// question and chat, oldest first, including the current turn.
	LastChatInteractions(ctx context.Context, examID, username string, questionIdx int, chatID string, limit int) ([]model.AskChatAI, error)
}
