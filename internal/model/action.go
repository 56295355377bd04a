// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ACTION TYPES
// =============================================================================

// ActionType identifies one kind of student action.
type ActionType string

// The closed set of recorded student action kinds.
const (
	ActionStartExam          ActionType = "START_EXAM"
	ActionSubmitExam         ActionType = "SUBMIT_EXAM"
	ActionAskChatAI          ActionType = "ASK_CHAT_AI"
	ActionWroteInitialAnswer ActionType = "WROTE_INITIAL_ANSWER"
	ActionWroteFinalAnswer   ActionType = "WROTE_FINAL_ANSWER"
	ActionChangedQuestion    ActionType = "CHANGED_QUESTION"
	ActionLostFocus          ActionType = "LOST_FOCUS"
	ActionExternalResource   ActionType = "EXTERNAL_RESOURCE"
)

// ErrUnknownActionType is returned when decoding an action whose
// action_type is not part of the closed set.
type ErrUnknownActionType struct {
	Type string
}

// Error implements the error interface.
func (e *ErrUnknownActionType) Error() string {
	return fmt.Sprintf("unknown action type: %q", e.Type)
}

// =============================================================================
// ACTION UNION
// =============================================================================

// Action is one element of the student action tagged union.
//
// Concrete types embed ActionBase; consumers dispatch with an
// exhaustive switch on Kind().
type Action interface {
	// Kind returns the action's type tag.
	Kind() ActionType
	// Base returns the shared envelope fields.
	Base() *ActionBase
}

// ActionBase carries the envelope fields shared by every action.
type ActionBase struct {
	ID              string     `json:"id,omitempty"`
	Type            ActionType `json:"action_type"`
	ExamID          string     `json:"exam_id,omitempty"`
	StudentUsername string     `json:"student_username,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Kind returns the action's type tag.
func (b *ActionBase) Kind() ActionType { return b.Type }

// Base returns the shared envelope fields.
func (b *ActionBase) Base() *ActionBase { return b }

// =============================================================================
// CONCRETE ACTIONS
// =============================================================================

// StartExam marks the beginning of a student's composition.
type StartExam struct {
	ActionBase
}

// SubmitExam marks the end of a student's composition.
type SubmitExam struct {
	ActionBase
}

// ChangedQuestion records navigation between questions.
type ChangedQuestion struct {
	ActionBase
	QuestionIdx     int `json:"question_idx"`
	NextQuestionIdx int `json:"next_question_idx"`
}

// LostFocus records the composition page losing focus or visibility.
type LostFocus struct {
	ActionBase
	QuestionIdx     *int      `json:"question_idx,omitempty"`
	ReturnTimestamp time.Time `json:"return_timestamp"`
	DurationSeconds float64   `json:"duration_seconds"`
	PageHidden      bool      `json:"page_hidden"`
}

// WroteInitialAnswer records the student's draft answer text.
type WroteInitialAnswer struct {
	ActionBase
	QuestionIdx int    `json:"question_idx"`
	Text        string `json:"text"`
}

// WroteFinalAnswer records the student's final answer text.
type WroteFinalAnswer struct {
	ActionBase
	QuestionIdx int    `json:"question_idx"`
	Text        string `json:"text"`
}

// ExternalResource records an external document the student declared.
type ExternalResource struct {
	ActionBase
	QuestionIdx int        `json:"question_idx"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	RscType     string     `json:"rsc_type"`
	Removed     *time.Time `json:"removed,omitempty"`
}

// AskChatAI records one prompt sent to a chat AI backend together with
// the accumulated answer relayed back from it.
//
// The answer starts as nil and is appended to, delta by delta, by the
// relay worker. Achieved flips to true exactly once, when the terminal
// fragment for this action's correlation id is processed.
type AskChatAI struct {
	ActionBase
	QuestionIdx  int     `json:"question_idx"`
	ChatID       string  `json:"chat_id"`
	ChatKey      string  `json:"chat_key"`
	ModelKey     string  `json:"model_key"`
	Prompt       string  `json:"prompt,omitempty"`
	HiddenPrompt string  `json:"hidden_prompt,omitempty"`
	Answer       *string `json:"answer,omitempty"`
	Achieved     bool    `json:"achieved"`
}

// PromptText returns the effective prompt: the explicit prompt when
// present, otherwise the hidden system-seeded prompt.
func (a *AskChatAI) PromptText() string {
	if a.Prompt != "" {
		return a.Prompt
	}
	return a.HiddenPrompt
}

// =============================================================================
// DECODING
// =============================================================================

// actionEnvelope is used to peek at the type tag before decoding the
// concrete struct.
type actionEnvelope struct {
	Type ActionType `json:"action_type"`
}

// DecodeAction decodes a JSON student action into its concrete type.
// Unknown action types return *ErrUnknownActionType.
func DecodeAction(data []byte) (Action, error) {
	var env actionEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode action envelope: %w", err)
	}

	var action Action
	switch env.Type {
	case ActionStartExam:
		action = &StartExam{}
	case ActionSubmitExam:
		action = &SubmitExam{}
	case ActionAskChatAI:
		action = &AskChatAI{}
	case ActionWroteInitialAnswer:
		action = &WroteInitialAnswer{}
	case ActionWroteFinalAnswer:
		action = &WroteFinalAnswer{}
	case ActionChangedQuestion:
		action = &ChangedQuestion{}
	case ActionLostFocus:
		action = &LostFocus{}
	case ActionExternalResource:
		action = &ExternalResource{}
	default:
		return nil, &ErrUnknownActionType{Type: string(env.Type)}
	}

	if err := json.Unmarshal(data, action); err != nil {
		return nil, fmt.Errorf("failed to decode %s action: %w", env.Type, err)
	}
	return action, nil
}

// EncodeAction marshals an action back to JSON, ensuring the type tag
// matches the concrete struct.
func EncodeAction(action Action) ([]byte, error) {
	action.Base().Type = action.Kind()
	return json.Marshal(action)
}
