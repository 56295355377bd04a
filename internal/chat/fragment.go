// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

// =============================================================================
// FRAGMENT TYPES
// =============================================================================

// FragmentKind discriminates the two fragment families carried by the
// queue: model discovery results and streamed answer deltas.
type FragmentKind string

const (
	// KindModel is a model discovery fragment produced during startup
	// discovery. It upserts one catalog entry.
	KindModel FragmentKind = "model"

	// KindAnswer is an answer fragment produced while streaming a
	// response to a student prompt.
	KindAnswer FragmentKind = "answer"
)

// Fragment is one unit of work on the correlation queue. Producers are
// the backend adapters (one goroutine each, possibly pooled); the sole
// consumer is the relay worker.
//
// For KindAnswer fragments, ActionID is the correlation id of the
// conversation turn being streamed. Delta may be nil on a purely
// terminal fragment. Ended is monotonic per correlation id: once a
// terminal fragment has been produced, no further fragments follow for
// that id.
type Fragment struct {
	Kind FragmentKind `json:"-"`

	ChatKey  string `json:"chat_key"`
	ModelKey string `json:"model_key,omitempty"`

	// Model discovery only.
	ModelName string `json:"model_name,omitempty"`

	// Answer streaming only.
	ActionID    string  `json:"action_id,omitempty"`
	QuestionIdx int     `json:"question_idx,omitempty"`
	ChatID      string  `json:"chat_id,omitempty"`
	Delta       *string `json:"delta,omitempty"`
	Ended       bool    `json:"ended"`

	// ChannelID addresses the student's push channel. The relay
	// worker scrubs it before the fragment leaves the process.
	ChannelID string `json:"-"`
}

// RequestTag carries the correlation metadata an adapter copies onto
// every answer fragment it produces for one prompt.
type RequestTag struct {
	ActionID    string
	ChannelID   string
	QuestionIdx int
	ChatID      string
}

// answerFragment builds an answer fragment stamped with the tag.
func answerFragment(chatKey, modelKey string, tag RequestTag, delta *string, ended bool) Fragment {
	return Fragment{
		Kind:        KindAnswer,
		ChatKey:     chatKey,
		ModelKey:    modelKey,
		ActionID:    tag.ActionID,
		ChannelID:   tag.ChannelID,
		QuestionIdx: tag.QuestionIdx,
		ChatID:      tag.ChatID,
		Delta:       delta,
		Ended:       ended,
	}
}

// modelFragment builds a model discovery fragment.
func modelFragment(chatKey, modelKey, name string, ended bool) Fragment {
	return Fragment{
		Kind:      KindModel,
		ChatKey:   chatKey,
		ModelKey:  modelKey,
		ModelName: name,
		Ended:     ended,
	}
}
