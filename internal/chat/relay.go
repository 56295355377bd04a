// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"log"

	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// RELAY DEPENDENCIES
// =============================================================================

// Store is the persistence surface the relay worker writes through.
// Implemented by the sqlite store.
type Store interface {
	// UpsertChatModel inserts or refreshes one catalog entry.
	UpsertChatModel(ctx context.Context, m model.ChatModel) error

	// ClearChatModels empties the discovered model catalog.
	ClearChatModels(ctx context.Context) error

	// AppendChatAnswer appends one delta to a turn's answer and
	// records finality. Returns ErrTurnFinal when the turn already
	// received its terminal fragment.
	AppendChatAnswer(ctx context.Context, actionID string, delta string, achieved bool) error

	// SetChatAchieved marks a turn final without touching its answer.
	// Returns ErrTurnFinal when the turn is already final.
	SetChatAchieved(ctx context.Context, actionID string) error
}

// Pusher delivers events to a student's push channel. Emit is
// fire-and-forget: delivery to an unbound channel is dropped.
type Pusher interface {
	Emit(event string, payload any, channelID string)
}

// =============================================================================
// RELAY WORKER
// =============================================================================

// relay is the single consumer of the fragment queue. It owns all
// persistence and push side effects, which keeps writes to any one
// conversation turn strictly ordered.
type relay struct {
	store Store
	push  Pusher
}

// run consumes the queue until it is closed. One failing or panicking
// fragment never stops the loop.
func (r *relay) run(ctx context.Context, queue <-chan Fragment) {
	log.Printf("RELAY_START |")
	for fragment := range queue {
		r.handle(ctx, fragment)
	}
	log.Printf("RELAY_STOP |")
}

// handle processes one fragment with panic isolation.
func (r *relay) handle(ctx context.Context, f Fragment) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("RELAY_PANIC | kind=%s action_id=%s recovered=%v", f.Kind, f.ActionID, rec)
		}
	}()

	switch f.Kind {
	case KindModel:
		r.handleModel(ctx, f)
	case KindAnswer:
		r.handleAnswer(ctx, f)
	default:
		log.Printf("RELAY_UNKNOWN_KIND | kind=%s", f.Kind)
	}
}

// handleModel upserts one discovered model into the catalog.
func (r *relay) handleModel(ctx context.Context, f Fragment) {
	err := r.store.UpsertChatModel(ctx, model.ChatModel{
		ChatKey:  f.ChatKey,
		ModelKey: f.ModelKey,
		Name:     f.ModelName,
	})
	if err != nil {
		log.Printf("RELAY_MODEL_ERROR | chat_key=%s model_key=%s err=%v", f.ChatKey, f.ModelKey, err)
		return
	}
	if f.Ended {
		log.Printf("MODELS_DISCOVERED | chat_key=%s", f.ChatKey)
	}
}

// handleAnswer persists one answer fragment and pushes it to the
// student's channel. The channel id is scrubbed before the fragment
// leaves the process.
func (r *relay) handleAnswer(ctx context.Context, f Fragment) {
	var err error
	switch {
	case f.Delta != nil:
		err = r.store.AppendChatAnswer(ctx, f.ActionID, *f.Delta, f.Ended)
	case f.Ended:
		err = r.store.SetChatAchieved(ctx, f.ActionID)
	default:
		// Neither content nor finality, nothing to record.
		return
	}

	if err != nil {
		if errors.Is(err, ErrTurnFinal) {
			log.Printf("RELAY_REJECT_AFTER_FINAL | action_id=%s", f.ActionID)
			return
		}
		log.Printf("RELAY_PERSIST_ERROR | action_id=%s err=%v", f.ActionID, err)
		return
	}

	channelID := f.ChannelID
	f.ChannelID = ""
	if channelID == "" {
		log.Printf("RELAY_DROP | action_id=%s reason=no_channel", f.ActionID)
		return
	}
	r.push.Emit("answer", f, channelID)
}
