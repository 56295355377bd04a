// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"net/http"

	"github.com/jeranaias/examgate/internal/model"
	"github.com/jeranaias/examgate/internal/session"
	"github.com/jeranaias/examgate/internal/store"
)

// =============================================================================
// CHAT BACKEND LISTINGS
// =============================================================================

// handleAvailableChats lists every connected backend with its
// discovered models. This is the author-time catalog exam and
// questionnaire documents select pairs from.
func (s *Server) handleAvailableChats(w http.ResponseWriter, r *http.Request) {
	chats, err := s.manager.AvailableChats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(chats))
}

// handleExamChoices narrows the catalog to the backend and model pairs
// one exam pre-selected.
func (s *Server) handleExamChoices(w http.ResponseWriter, r *http.Request) {
	exam, err := s.store.FindExam(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load exam")
		return
	}

	chats, err := s.manager.ChoicesForExam(r.Context(), exam)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(chats))
}

// handleQuestionnaireChoices narrows the catalog to a questionnaire's
// selected pair. The pass-through backend never appears: a hidden seed
// prompt needs a model on the other side.
func (s *Server) handleQuestionnaireChoices(w http.ResponseWriter, r *http.Request) {
	socrat, err := s.store.FindSocrat(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load questionnaire")
		return
	}

	chats, err := s.manager.ChoicesForQuestionnaire(r.Context(), socrat)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	writeJSON(w, http.StatusOK, listOrEmpty(chats))
}

// handleStudentChats returns the choices transform for the student's
// own composition. Clients use the copy_paste and private_key_required
// flags to shape the chat widget.
func (s *Server) handleStudentChats(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		return
	}

	var chats []model.ChatAIDescription
	if sess.Kind == session.KindSocrat {
		socrat, err := s.store.FindSocrat(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return
		}
		chats, err = s.manager.ChoicesForQuestionnaire(r.Context(), socrat)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
	} else {
		exam, err := s.store.FindExam(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
		chats, err = s.manager.ChoicesForExam(r.Context(), exam)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list chats")
			return
		}
	}
	writeJSON(w, http.StatusOK, listOrEmpty(chats))
}

// listOrEmpty keeps empty listings serializing as [] instead of null.
func listOrEmpty(chats []model.ChatAIDescription) []model.ChatAIDescription {
	if chats == nil {
		return []model.ChatAIDescription{}
	}
	return chats
}
