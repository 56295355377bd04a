// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"errors"
	"log"
	"net/http"

	"github.com/jeranaias/examgate/internal/model"
	"github.com/jeranaias/examgate/internal/security"
	"github.com/jeranaias/examgate/internal/store"
)

// =============================================================================
// EXAM MANAGEMENT
// =============================================================================

// handleCreateExam stores a new exam. Chat API keys are encrypted
// before the document hits the database.
func (s *Server) handleCreateExam(w http.ResponseWriter, r *http.Request) {
	var exam model.Exam
	if err := decodeBody(r, &exam); err != nil {
		writeError(w, http.StatusBadRequest, "invalid exam document")
		return
	}
	if len(exam.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "exam needs at least one question")
		return
	}

	for chatID, settings := range exam.SelectedChats {
		encrypted, err := s.cipher.EncryptString(settings.APIKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to protect api key")
			return
		}
		settings.APIKey = encrypted
		exam.SelectedChats[chatID] = settings
	}

	id, err := s.store.SaveExam(r.Context(), &exam)
	if err != nil {
		log.Printf("EXAM_SAVE_ERROR | err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to save exam")
		return
	}
	log.Printf("EXAM_SAVED | exam=%s questions=%d", id, len(exam.Questions))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleListExams returns every stored exam, credentials scrubbed.
func (s *Server) handleListExams(w http.ResponseWriter, r *http.Request) {
	exams, err := s.store.ListExams(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list exams")
		return
	}
	for i := range exams {
		for id := range exams[i].SelectedChats {
			exams[i].SelectedChats[id] = model.ExamChatSettings{}
		}
	}
	if exams == nil {
		exams = []model.Exam{}
	}
	writeJSON(w, http.StatusOK, exams)
}

// handleGetExam returns one exam with its credentials scrubbed.
func (s *Server) handleGetExam(w http.ResponseWriter, r *http.Request) {
	exam, err := s.store.FindExam(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load exam")
		return
	}
	for id := range exam.SelectedChats {
		exam.SelectedChats[id] = model.ExamChatSettings{}
	}
	writeJSON(w, http.StatusOK, exam)
}

// ticketsResponse maps usernames to signed access tickets.
type ticketsResponse struct {
	Tickets map[string]string `json:"tickets"`
}

// handleExamTickets signs one access ticket per enrolled student.
func (s *Server) handleExamTickets(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	kind := security.TicketExam
	var students []model.Student
	if exam, err := s.store.FindExam(r.Context(), id); err == nil {
		students = exam.Students
	} else if socrat, err := s.store.FindSocrat(r.Context(), id); err == nil {
		kind = security.TicketSocrat
		students = socrat.Students
	} else {
		writeError(w, http.StatusNotFound, "exam not found")
		return
	}
	if len(students) == 0 {
		writeError(w, http.StatusBadRequest, "no students enrolled")
		return
	}

	resp := ticketsResponse{Tickets: make(map[string]string, len(students))}
	for _, student := range students {
		ticket, err := s.signer.Sign(security.Ticket{
			Kind:     kind,
			ExamID:   id,
			Username: student.Username,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to sign tickets")
			return
		}
		resp.Tickets[student.Username] = ticket
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStudentActions returns a student's full action trail for
// review.
func (s *Server) handleStudentActions(w http.ResponseWriter, r *http.Request) {
	actions, err := s.store.ActionsForStudent(r.Context(), r.PathValue("id"), r.PathValue("username"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}
	if actions == nil {
		actions = []model.Action{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// =============================================================================
// SOCRATIC QUESTIONNAIRE MANAGEMENT
// =============================================================================

// handleCreateSocrat stores a new questionnaire, encrypting its chat
// API key.
func (s *Server) handleCreateSocrat(w http.ResponseWriter, r *http.Request) {
	var socrat model.SocratQuestionnaire
	if err := decodeBody(r, &socrat); err != nil {
		writeError(w, http.StatusBadRequest, "invalid questionnaire document")
		return
	}
	if len(socrat.Questions) == 0 {
		writeError(w, http.StatusBadRequest, "questionnaire needs at least one question")
		return
	}
	if socrat.SelectedChat == "" {
		writeError(w, http.StatusBadRequest, "questionnaire needs a chat backend")
		return
	}
	for _, q := range socrat.Questions {
		if q.InitPrompt == "" {
			writeError(w, http.StatusBadRequest, "every question needs an init prompt")
			return
		}
	}

	encrypted, err := s.cipher.EncryptString(socrat.APIKey)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to protect api key")
		return
	}
	socrat.APIKey = encrypted

	id, err := s.store.SaveSocrat(r.Context(), &socrat)
	if err != nil {
		log.Printf("SOCRAT_SAVE_ERROR | err=%v", err)
		writeError(w, http.StatusInternalServerError, "failed to save questionnaire")
		return
	}
	log.Printf("SOCRAT_SAVED | socrat=%s questions=%d", id, len(socrat.Questions))
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleGetSocrat returns one questionnaire with its credential
// scrubbed.
func (s *Server) handleGetSocrat(w http.ResponseWriter, r *http.Request) {
	socrat, err := s.store.FindSocrat(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load questionnaire")
		return
	}
	socrat.APIKey = ""
	writeJSON(w, http.StatusOK, socrat)
}
