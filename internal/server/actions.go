// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/jeranaias/examgate/internal/chat"
	"github.com/jeranaias/examgate/internal/model"
	"github.com/jeranaias/examgate/internal/security"
	"github.com/jeranaias/examgate/internal/session"
)

// maxActionBody bounds a single recorded action payload.
const maxActionBody = 1 << 20

// =============================================================================
// STUDENT LOGIN
// =============================================================================

// loginRequest carries the signed access ticket.
type loginRequest struct {
	Ticket string `json:"ticket"`
}

// loginResponse returns the session credentials the client needs: the
// session token for API calls and the push channel id for the event
// stream.
type loginResponse struct {
	Token     string `json:"token"`
	ChannelID string `json:"channel_id"`
	Kind      string `json:"kind"`
	ExamID    string `json:"exam_id"`
	Username  string `json:"username"`
}

// handleStudentLogin verifies a ticket and opens a session.
func (s *Server) handleStudentLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ticket, err := s.signer.Verify(req.Ticket)
	if err != nil {
		if errors.Is(err, security.ErrTicketExpired) {
			writeError(w, http.StatusUnauthorized, "ticket expired")
			return
		}
		writeError(w, http.StatusUnauthorized, "invalid ticket")
		return
	}

	// The composition named by the ticket must still exist.
	kind := session.KindExam
	switch ticket.Kind {
	case security.TicketExam:
		if _, err := s.store.FindExam(r.Context(), ticket.ExamID); err != nil {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
	case security.TicketSocrat:
		kind = session.KindSocrat
		if _, err := s.store.FindSocrat(r.Context(), ticket.ExamID); err != nil {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return
		}
	default:
		writeError(w, http.StatusUnauthorized, "invalid ticket")
		return
	}

	sess := s.sessions.Create(kind, ticket.ExamID, ticket.Username)
	log.Printf("STUDENT_LOGIN | kind=%s exam=%s student=%s", kind, ticket.ExamID, ticket.Username)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ChannelID: sess.ChannelID,
		Kind:      sess.Kind,
		ExamID:    sess.ExamID,
		Username:  sess.Username,
	})
}

// =============================================================================
// ACTION RECORDING
// =============================================================================

// actionResponse acknowledges a recorded action.
type actionResponse struct {
	ID string `json:"id"`
}

// handleStudentAction decodes, validates and records one student
// action. AskChatAI actions are additionally dispatched to the chat
// manager; their answers arrive asynchronously over the push channel.
func (s *Server) handleStudentAction(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxActionBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	action, err := model.DecodeAction(body)
	if err != nil {
		var unknown *model.ErrUnknownActionType
		if errors.As(err, &unknown) {
			writeError(w, http.StatusBadRequest, unknown.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid action")
		return
	}

	// The session, not the client, decides attribution.
	base := action.Base()
	base.ExamID = sess.ExamID
	base.StudentUsername = sess.Username

	if !s.gateAction(w, r, sess, action) {
		return
	}

	id, err := s.store.CreateAction(r.Context(), action)
	if err != nil {
		log.Printf("ACTION_PERSIST_ERROR | type=%s err=%v", action.Kind(), err)
		writeError(w, http.StatusInternalServerError, "failed to record action")
		return
	}
	base.ID = id

	if err := s.afterAction(r.Context(), sess, action); err != nil {
		writeChatError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, actionResponse{ID: id})
}

// gateAction enforces the session lifecycle per action kind: StartExam
// opens the window, SubmitExam closes it, everything else requires an
// active window. Returns false with the response written on rejection.
func (s *Server) gateAction(w http.ResponseWriter, r *http.Request, sess *session.Session, action model.Action) bool {
	switch action.Kind() {
	case model.ActionStartExam, model.ActionSubmitExam:
		return true
	}

	if err := sess.Active(time.Now()); err != nil {
		switch {
		case errors.Is(err, session.ErrNotStarted):
			writeError(w, http.StatusConflict, "composition not started")
		case errors.Is(err, session.ErrEnded):
			writeError(w, http.StatusConflict, "composition ended")
		default:
			writeError(w, http.StatusConflict, err.Error())
		}
		return false
	}

	if ask, ok := action.(*model.AskChatAI); ok {
		return s.gateChatAsk(w, r, sess, ask)
	}
	return true
}

// gateChatAsk validates a chat prompt against the composition's
// allow-list and question range.
func (s *Server) gateChatAsk(w http.ResponseWriter, r *http.Request, sess *session.Session, ask *model.AskChatAI) bool {
	switch sess.Kind {
	case session.KindSocrat:
		socrat, err := s.store.FindSocrat(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return false
		}
		if model.ChatModelID(ask.ChatKey, ask.ModelKey) != socrat.SelectedChat {
			writeError(w, http.StatusForbidden, "chat backend not allowed")
			return false
		}
		if !socrat.ValidQuestionIdx(ask.QuestionIdx) {
			writeError(w, http.StatusBadRequest, "question index out of range")
			return false
		}
	default:
		exam, err := s.store.FindExam(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "exam not found")
			return false
		}
		if !exam.ChatAllowed(ask.ChatKey, ask.ModelKey) {
			writeError(w, http.StatusForbidden, "chat backend not allowed")
			return false
		}
		if !exam.ValidQuestionIdx(ask.QuestionIdx) {
			writeError(w, http.StatusBadRequest, "question index out of range")
			return false
		}
	}
	return true
}

// afterAction runs the side effects a recorded action triggers.
func (s *Server) afterAction(ctx context.Context, sess *session.Session, action model.Action) error {
	switch act := action.(type) {
	case *model.StartExam:
		duration, err := s.compositionDuration(ctx, sess)
		if err != nil {
			log.Printf("SESSION_START_ERROR | student=%s err=%v", sess.Username, err)
			return nil
		}
		if err := s.sessions.MarkStarted(sess.Token, duration); err != nil {
			log.Printf("SESSION_START_ERROR | student=%s err=%v", sess.Username, err)
		}

	case *model.SubmitExam:
		if err := s.sessions.MarkEnded(sess.Token); err != nil {
			log.Printf("SESSION_END_ERROR | student=%s err=%v", sess.Username, err)
		}
		// No more answers will be streamed to a submitted composition.
		s.hub.CloseChannel(sess.ChannelID)

	case *model.AskChatAI:
		return s.dispatchChatAsk(ctx, sess, act)

	case *model.ChangedQuestion:
		s.seedSocratTurn(ctx, sess, act.NextQuestionIdx)
	}
	return nil
}

// dispatchChatAsk hands the recorded prompt to the chat manager. The
// per-exam API key is decrypted here, at the moment of use, and never
// leaves this call.
func (s *Server) dispatchChatAsk(ctx context.Context, sess *session.Session, ask *model.AskChatAI) error {
	privateKey, err := s.compositionAPIKey(ctx, sess, model.ChatModelID(ask.ChatKey, ask.ModelKey))
	if err != nil {
		return err
	}
	return s.manager.ProcessPrompt(ctx, ask, sess.ChannelID, privateKey)
}

// compositionAPIKey resolves and decrypts the API key configured for
// the selected backend and model pair in the student's composition.
func (s *Server) compositionAPIKey(ctx context.Context, sess *session.Session, pairID string) (string, error) {
	var encrypted string
	if sess.Kind == session.KindSocrat {
		socrat, err := s.store.FindSocrat(ctx, sess.ExamID)
		if err != nil {
			return "", err
		}
		encrypted = socrat.APIKey
	} else {
		exam, err := s.store.FindExam(ctx, sess.ExamID)
		if err != nil {
			return "", err
		}
		encrypted = exam.SelectedChats[pairID].APIKey
	}
	return s.cipher.DecryptString(encrypted)
}

// compositionDuration looks up the composition's time limit.
func (s *Server) compositionDuration(ctx context.Context, sess *session.Session) (time.Duration, error) {
	if sess.Kind == session.KindSocrat {
		socrat, err := s.store.FindSocrat(ctx, sess.ExamID)
		if err != nil {
			return 0, err
		}
		return time.Duration(socrat.DurationMinutes) * time.Minute, nil
	}
	exam, err := s.store.FindExam(ctx, sess.ExamID)
	if err != nil {
		return 0, err
	}
	return time.Duration(exam.DurationMinutes) * time.Minute, nil
}

// seedSocratTurn fires the hidden initialization prompt the first time
// a student lands on a questionnaire question. The seeded turn is a
// regular AskChatAI action with a hidden prompt, so its answer streams
// back through the same relay path as explicit prompts.
func (s *Server) seedSocratTurn(ctx context.Context, sess *session.Session, questionIdx int) {
	if sess.Kind != session.KindSocrat {
		return
	}
	socrat, err := s.store.FindSocrat(ctx, sess.ExamID)
	if err != nil || !socrat.ValidQuestionIdx(questionIdx) {
		return
	}

	// Questionnaire conversations reuse the selected pair id as the
	// conversation id, one conversation per question.
	chatKey, modelKey := model.SplitChatModelID(socrat.SelectedChat)
	prior, err := s.store.LastChatInteractions(ctx, sess.ExamID, sess.Username, questionIdx, socrat.SelectedChat, 1)
	if err != nil || len(prior) > 0 {
		return
	}

	seed := &model.AskChatAI{
		ActionBase: model.ActionBase{
			Type:            model.ActionAskChatAI,
			ExamID:          sess.ExamID,
			StudentUsername: sess.Username,
		},
		QuestionIdx:  questionIdx,
		ChatID:       socrat.SelectedChat,
		ChatKey:      chatKey,
		ModelKey:     modelKey,
		HiddenPrompt: socrat.Questions[questionIdx].InitPrompt,
	}
	id, err := s.store.CreateAction(ctx, seed)
	if err != nil {
		log.Printf("SOCRAT_SEED_ERROR | student=%s question=%d err=%v", sess.Username, questionIdx, err)
		return
	}
	seed.ID = id

	log.Printf("SOCRAT_SEED | student=%s question=%d chat=%s", sess.Username, questionIdx, chatKey)
	if err := s.dispatchChatAsk(ctx, sess, seed); err != nil {
		log.Printf("SOCRAT_SEED_DISPATCH_ERROR | action=%s err=%v", id, err)
	}
}

// writeChatError maps chat dispatch failures onto HTTP statuses.
func writeChatError(w http.ResponseWriter, err error) {
	var unknown *chat.UnknownChatError
	switch {
	case errors.Is(err, chat.ErrMissingPrompt):
		writeError(w, http.StatusBadRequest, "prompt must not be empty")
	case errors.As(err, &unknown):
		writeError(w, http.StatusBadRequest, unknown.Error())
	case errors.Is(err, chat.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, "chat backend not connected")
	case errors.Is(err, chat.ErrManagerStopped):
		writeError(w, http.StatusServiceUnavailable, "chat routing stopped")
	default:
		log.Printf("CHAT_DISPATCH_ERROR | err=%v", err)
		writeError(w, http.StatusBadGateway, "chat dispatch failed")
	}
}

// =============================================================================
// EXTERNAL RESOURCES
// =============================================================================

// handleRemoveResource marks a previously declared external resource
// as put away. The declaration itself stays in the trail.
func (s *Server) handleRemoveResource(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		return
	}
	if err := sess.Active(time.Now()); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	actionID := r.PathValue("id")
	action, err := s.store.FindAction(r.Context(), actionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	base := action.Base()
	if action.Kind() != model.ActionExternalResource ||
		base.ExamID != sess.ExamID || base.StudentUsername != sess.Username {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	if err := s.store.RemoveExternalResource(r.Context(), actionID, time.Now().UTC()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove resource")
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{ID: actionID})
}

// =============================================================================
// STUDENT CONTEXT
// =============================================================================

// contextResponse is the composition view a student client renders.
type contextResponse struct {
	Kind     string         `json:"kind"`
	Exam     any            `json:"exam"`
	Actions  []model.Action `json:"actions"`
	Started  bool           `json:"started"`
	Ended    bool           `json:"ended"`
	Deadline *time.Time     `json:"deadline,omitempty"`
}

// handleStudentContext returns the composition document and the
// student's recorded actions so a reloaded client can restore state.
func (s *Server) handleStudentContext(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		return
	}

	var doc any
	if sess.Kind == session.KindSocrat {
		socrat, err := s.store.FindSocrat(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "questionnaire not found")
			return
		}
		socrat.APIKey = ""
		doc = socrat
	} else {
		exam, err := s.store.FindExam(r.Context(), sess.ExamID)
		if err != nil {
			writeError(w, http.StatusNotFound, "exam not found")
			return
		}
		// Students never see backend credentials, encrypted or not.
		for id := range exam.SelectedChats {
			exam.SelectedChats[id] = model.ExamChatSettings{}
		}
		exam.Students = nil
		doc = exam
	}

	actions, err := s.store.ActionsForStudent(r.Context(), sess.ExamID, sess.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load actions")
		return
	}

	resp := contextResponse{
		Kind:    sess.Kind,
		Exam:    doc,
		Actions: actions,
		Started: sess.Started,
		Ended:   sess.Ended,
	}
	if !sess.Deadline.IsZero() {
		resp.Deadline = &sess.Deadline
	}
	writeJSON(w, http.StatusOK, resp)
}
