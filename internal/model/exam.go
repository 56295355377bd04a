// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strings"
	"time"
)

// =============================================================================
// EXAMS
// =============================================================================

// Question is one exam question.
type Question struct {
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

// ExamChatSettings holds the per-exam configuration of one enabled chat
// backend. APIKey is stored encrypted ("ENC:" prefix) and decrypted
// only at the moment a prompt is dispatched.
type ExamChatSettings struct {
	APIKey string `json:"api_key,omitempty"`
}

// Exam is a timed composition with a set of questions and an
// allow-list of chat AI backend and model pairs students may use.
// SelectedChats is keyed by ChatModelID.
type Exam struct {
	ID              string                      `json:"id,omitempty"`
	Name            string                      `json:"name"`
	Description     string                      `json:"description,omitempty"`
	Created         time.Time                   `json:"created"`
	DurationMinutes int                         `json:"duration_minutes"`
	Questions       []Question                  `json:"questions"`
	Students        []Student                   `json:"students,omitempty"`
	SelectedChats   map[string]ExamChatSettings `json:"selected_chats,omitempty"`
}

// ChatAllowed reports whether the given backend and model pair is
// enabled for this exam.
func (e *Exam) ChatAllowed(chatKey, modelKey string) bool {
	_, ok := e.SelectedChats[ChatModelID(chatKey, modelKey)]
	return ok
}

// ValidQuestionIdx reports whether idx addresses one of the exam's
// questions.
func (e *Exam) ValidQuestionIdx(idx int) bool {
	return idx >= 0 && idx < len(e.Questions)
}

// Student is one enrolled participant.
type Student struct {
	Username string `json:"username"`
}

// =============================================================================
// SOCRATIC QUESTIONNAIRES
// =============================================================================

// SocratQuestionnaire is a guided questionnaire where every question
// carries a hidden initialization prompt that seeds the first chat
// turn on the student's behalf. SelectedChat is the ChatModelID of
// the one backend and model pair the questionnaire runs on.
type SocratQuestionnaire struct {
	ID              string           `json:"id,omitempty"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Created         time.Time        `json:"created"`
	DurationMinutes int              `json:"duration_minutes"`
	Questions       []SocratQuestion `json:"questions"`
	Students        []Student        `json:"students,omitempty"`
	SelectedChat    string           `json:"selected_chat,omitempty"`
	APIKey          string           `json:"api_key,omitempty"`
}

// SocratQuestion is one questionnaire entry with its hidden seed prompt.
type SocratQuestion struct {
	Title      string `json:"title,omitempty"`
	Content    string `json:"content"`
	InitPrompt string `json:"init_prompt"`
}

// ValidQuestionIdx reports whether idx addresses one of the
// questionnaire's questions.
func (s *SocratQuestionnaire) ValidQuestionIdx(idx int) bool {
	return idx >= 0 && idx < len(s.Questions)
}

// =============================================================================
// CHAT MODEL CATALOG
// =============================================================================

// ChatModel is one discovered backend model, keyed by (chat key,
// model key). The catalog is cleared and repopulated during manager
// startup discovery.
type ChatModel struct {
	ChatKey  string `json:"chat_key"`
	ModelKey string `json:"model_key"`
	Name     string `json:"name"`
}

// ID returns the pair identifier exams and questionnaires select by.
func (m ChatModel) ID() string {
	return ChatModelID(m.ChatKey, m.ModelKey)
}

// ChatModelID builds the "chat_key.model_key" pair identifier.
func ChatModelID(chatKey, modelKey string) string {
	return chatKey + "." + modelKey
}

// SplitChatModelID splits a pair identifier back into its backend and
// model keys. Model keys may themselves contain dots (local model tags
// do), so only the first separator splits.
func SplitChatModelID(id string) (chatKey, modelKey string) {
	chatKey, modelKey, _ = strings.Cut(id, ".")
	return chatKey, modelKey
}

// ChatAIDescription describes one registered backend for API
// consumers: its key, display name and whether callers must supply a
// private API key per exam.
type ChatAIDescription struct {
	Key                string      `json:"key"`
	Name               string      `json:"name"`
	CopyPaste          bool        `json:"copy_paste"`
	PrivateKeyRequired bool        `json:"private_key_required"`
	Models             []ChatModel `json:"models,omitempty"`
}
