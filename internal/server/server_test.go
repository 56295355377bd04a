// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/examgate/internal/chat"
	"github.com/jeranaias/examgate/internal/config"
	"github.com/jeranaias/examgate/internal/model"
	"github.com/jeranaias/examgate/internal/push"
	"github.com/jeranaias/examgate/internal/security"
	"github.com/jeranaias/examgate/internal/session"
	"github.com/jeranaias/examgate/internal/store"
)

// =============================================================================
// TEST FIXTURE
// =============================================================================

// testEnv bundles a fully wired server with direct access to its
// collaborators.
type testEnv struct {
	server   *Server
	store    *store.Store
	manager  *chat.Manager
	hub      *push.Hub
	sessions *session.Manager
	signer   *security.TicketSigner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Security.Secret = "test-secret"
	cfg.Database.Path = filepath.Join(t.TempDir(), "test.db")

	st, err := store.Open(cfg.Database.Path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	hub := push.NewHub()
	manager := chat.NewManager(st, hub)
	require.NoError(t, manager.Register(chat.NewCopyPasteHandler("Copy & Paste", manager.Queue())))
	require.NoError(t, manager.Start(context.Background()))
	t.Cleanup(manager.Stop)

	// Discovery runs through the relay; wait for the catalog row so
	// listing endpoints see a settled state.
	require.Eventually(t, func() bool {
		models, err := st.ListChatModels(context.Background())
		return err == nil && len(models) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cipher, err := security.NewKeyCipher(cfg.Security.Secret, []byte(cfg.Security.KeySalt))
	require.NoError(t, err)
	signer, err := security.NewTicketSigner(cfg.Security.Secret, 0)
	require.NoError(t, err)

	sessions := session.NewManager()
	return &testEnv{
		server:   New(cfg, st, manager, hub, sessions, cipher, signer),
		store:    st,
		manager:  manager,
		hub:      hub,
		sessions: sessions,
		signer:   signer,
	}
}

// do performs one JSON request against the composed handler.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set(sessionHeader, token)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

// copyPastePair is the backend and model pair exam fixtures select.
var copyPastePair = model.ChatModelID(chat.KeyCopyPaste, chat.DefaultModelKey)

// createExam stores an exam allowing the copy/paste pair and returns
// its id.
func (e *testEnv) createExam(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/exams", "", model.Exam{
		Name:            "Algebra Final",
		DurationMinutes: 60,
		Questions:       []model.Question{{Content: "Solve for x."}, {Content: "Prove it."}},
		Students:        []model.Student{{Username: "alice"}},
		SelectedChats:   map[string]model.ExamChatSettings{copyPastePair: {}},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp["id"]
}

// login signs a ticket for username and opens a session.
func (e *testEnv) login(t *testing.T, kind, examID, username string) loginResponse {
	t.Helper()
	ticket, err := e.signer.Sign(security.Ticket{Kind: kind, ExamID: examID, Username: username})
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/api/student/login", "", loginRequest{Ticket: ticket})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp loginResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

// startExam records the START_EXAM action.
func (e *testEnv) startExam(t *testing.T, token string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/student/actions", token,
		map[string]any{"action_type": model.ActionStartExam})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
}

// askAction builds an ASK_CHAT_AI request body.
func askAction(prompt string) map[string]any {
	return map[string]any{
		"action_type":  model.ActionAskChatAI,
		"question_idx": 0,
		"chat_id":      "widget-1",
		"chat_key":     chat.KeyCopyPaste,
		"model_key":    chat.DefaultModelKey,
		"prompt":       prompt,
	}
}

// =============================================================================
// LOGIN
// =============================================================================

func TestLoginWithValidTicket(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)

	resp := env.login(t, security.TicketExam, examID, "alice")
	assert.NotEmpty(t, resp.Token)
	assert.NotEmpty(t, resp.ChannelID)
	assert.Equal(t, session.KindExam, resp.Kind)
	assert.Equal(t, examID, resp.ExamID)
}

func TestLoginRejectsTamperedTicket(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)

	ticket, err := env.signer.Sign(security.Ticket{Kind: security.TicketExam, ExamID: examID, Username: "alice"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/student/login", "", loginRequest{Ticket: ticket + "x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsMissingExam(t *testing.T) {
	env := newTestEnv(t)
	ticket, err := env.signer.Sign(security.Ticket{Kind: security.TicketExam, ExamID: "nope", Username: "alice"})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/student/login", "", loginRequest{Ticket: ticket})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// ACTION FLOW
// =============================================================================

func TestActionRequiresSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/student/actions", "", askAction("hi"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/student/actions", "bogus", askAction("hi"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAskBeforeStartRejected(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, askAction("hi"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAskAfterSubmitRejected(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token,
		map[string]any{"action_type": model.ActionSubmitExam})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/student/actions", login.Token, askAction("hi"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAskRejectsDisallowedBackend(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	body := askAction("hi")
	body["chat_key"] = chat.KeyOpenAI
	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

// Selection is pair granular: an allowed backend with a model the exam
// never selected is still rejected.
func TestAskRejectsUnselectedModel(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	body := askAction("hi")
	body["model_key"] = "gpt-4o"
	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAskRejectsBadQuestionIdx(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	body := askAction("hi")
	body["question_idx"] = 7
	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRejectsEmptyPrompt(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, askAction(""))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskReachesFinalityAndPushesAnswer(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	events, cancel := env.hub.Subscribe(login.ChannelID)
	defer cancel()

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, askAction("2+2?"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	select {
	case ev := <-events:
		assert.Equal(t, "answer", ev.Name)
		var frag map[string]any
		require.NoError(t, json.Unmarshal(ev.Data, &frag))
		assert.Equal(t, resp.ID, frag["action_id"])
		assert.Equal(t, true, frag["ended"])
		// Channel routing never leaks to the client payload.
		assert.NotContains(t, string(ev.Data), login.ChannelID)
	case <-time.After(2 * time.Second):
		t.Fatal("no answer event received")
	}

	require.Eventually(t, func() bool {
		action, err := env.store.FindAction(context.Background(), resp.ID)
		if err != nil {
			return false
		}
		ask, ok := action.(*model.AskChatAI)
		return ok && ask.Achieved
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRejectsUnknownActionType(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token,
		map[string]any{"action_type": "HACK_THE_GIBSON"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// CONTEXT AND LISTINGS
// =============================================================================

func TestStudentContextScrubsCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/exams", "", model.Exam{
		Name:            "Keys",
		DurationMinutes: 30,
		Questions:       []model.Question{{Content: "Q"}},
		Students:        []model.Student{{Username: "bob"}},
		SelectedChats:   map[string]model.ExamChatSettings{copyPastePair: {APIKey: "sk-very-secret"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	login := env.login(t, security.TicketExam, created["id"], "bob")
	rec = env.do(t, http.MethodGet, "/api/student/context", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-very-secret")
	assert.NotContains(t, rec.Body.String(), security.EncryptedPrefix)
}

func TestGetExamScrubsCredentials(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/exams", "", model.Exam{
		Name:            "Keys",
		DurationMinutes: 30,
		Questions:       []model.Question{{Content: "Q"}},
		SelectedChats:   map[string]model.ExamChatSettings{copyPastePair: {APIKey: "sk-very-secret"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// The stored document carries the encrypted key.
	exam, err := env.store.FindExam(context.Background(), created["id"])
	require.NoError(t, err)
	assert.True(t, security.IsEncrypted(exam.SelectedChats[copyPastePair].APIKey))

	rec = env.do(t, http.MethodGet, "/api/exams/"+created["id"], "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sk-very-secret")
	assert.NotContains(t, rec.Body.String(), security.EncryptedPrefix)
}

func TestAvailableChatsListsCatalog(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/chats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chats []model.ChatAIDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, chat.KeyCopyPaste, chats[0].Key)
	assert.True(t, chats[0].CopyPaste)
	require.Len(t, chats[0].Models, 1)
	assert.Equal(t, chat.DefaultModelKey, chats[0].Models[0].ModelKey)
}

func TestStudentChatsFilteredToSelection(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")

	rec := env.do(t, http.MethodGet, "/api/student/chats", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chats []model.ChatAIDescription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chats))
	require.Len(t, chats, 1)
	assert.Equal(t, chat.KeyCopyPaste, chats[0].Key)

	// An exam selecting no backend yields an empty listing.
	rec = env.do(t, http.MethodPost, "/api/exams", "", model.Exam{
		Name:      "No chats",
		Questions: []model.Question{{Content: "Q"}},
		Students:  []model.Student{{Username: "dave"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	bare := env.login(t, security.TicketExam, created["id"], "dave")
	rec = env.do(t, http.MethodGet, "/api/student/chats", bare.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestQuestionnaireChoicesExcludeCopyPaste(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/socrats", "", model.SocratQuestionnaire{
		Name:            "Guided",
		DurationMinutes: 30,
		Questions: []model.SocratQuestion{
			{Content: "Explain recursion.", InitPrompt: "Guide the student."},
		},
		SelectedChat: copyPastePair,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	// The selected pair points at the pass-through backend, which can
	// never drive a guided dialogue.
	rec = env.do(t, http.MethodGet, "/api/socrats/"+created["id"]+"/chats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestListExamsScrubsCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.createExam(t)

	rec := env.do(t, http.MethodPost, "/api/exams", "", model.Exam{
		Name:            "Second",
		DurationMinutes: 30,
		Questions:       []model.Question{{Content: "Q"}},
		SelectedChats:   map[string]model.ExamChatSettings{copyPastePair: {APIKey: "sk-list-secret"}},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/exams", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var exams []model.Exam
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &exams))
	assert.Len(t, exams, 2)
	assert.NotContains(t, rec.Body.String(), "sk-list-secret")
	assert.NotContains(t, rec.Body.String(), security.EncryptedPrefix)
}

// =============================================================================
// EXTERNAL RESOURCES
// =============================================================================

func TestRemoveExternalResource(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, map[string]any{
		"action_type":  model.ActionExternalResource,
		"question_idx": 0,
		"title":        "Course notes",
		"rsc_type":     "book",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var created actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodPost, "/api/student/resources/"+created.ID+"/remove", login.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	action, err := env.store.FindAction(context.Background(), created.ID)
	require.NoError(t, err)
	rsc, ok := action.(*model.ExternalResource)
	require.True(t, ok)
	require.NotNil(t, rsc.Removed)
}

func TestRemoveExternalResourceRejectsForeignAction(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	// A non-resource action cannot be removed.
	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token,
		map[string]any{"action_type": model.ActionLostFocus, "page_hidden": true})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var created actionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = env.do(t, http.MethodPost, "/api/student/resources/"+created.ID+"/remove", login.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// TICKETS
// =============================================================================

func TestExamTickets(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/exams/%s/tickets", examID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ticketsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Contains(t, resp.Tickets, "alice")

	ticket, err := env.signer.Verify(resp.Tickets["alice"])
	require.NoError(t, err)
	assert.Equal(t, examID, ticket.ExamID)
	assert.Equal(t, "alice", ticket.Username)
}

func TestExamTicketsUnknownExam(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodPost, "/api/exams/nope/tickets", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// SOCRATIC SEEDING
// =============================================================================

func TestSocratSeedOnFirstQuestionVisit(t *testing.T) {
	env := newTestEnv(t)

	// Copy/paste is not a questionnaire backend, but it is the only
	// in-process handler, so the socrat document names it directly.
	socrat := model.SocratQuestionnaire{
		Name:            "Guided",
		DurationMinutes: 30,
		Questions: []model.SocratQuestion{
			{Content: "Explain recursion.", InitPrompt: "Guide the student on recursion."},
		},
		Students:     []model.Student{{Username: "carol"}},
		SelectedChat: copyPastePair,
	}
	rec := env.do(t, http.MethodPost, "/api/socrats", "", socrat)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	login := env.login(t, security.TicketSocrat, created["id"], "carol")
	env.startExam(t, login.Token)

	changed := map[string]any{
		"action_type":       model.ActionChangedQuestion,
		"question_idx":      0,
		"next_question_idx": 0,
	}
	rec = env.do(t, http.MethodPost, "/api/student/actions", login.Token, changed)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	// The hidden turn is recorded and reaches finality through the relay.
	require.Eventually(t, func() bool {
		turns, err := env.store.LastChatInteractions(context.Background(),
			created["id"], "carol", 0, copyPastePair, 10)
		if err != nil || len(turns) != 1 {
			return false
		}
		return turns[0].HiddenPrompt != "" && turns[0].Achieved
	}, 2*time.Second, 20*time.Millisecond)

	// A second visit does not seed again.
	rec = env.do(t, http.MethodPost, "/api/student/actions", login.Token, changed)
	require.Equal(t, http.StatusAccepted, rec.Code)
	time.Sleep(100 * time.Millisecond)

	turns, err := env.store.LastChatInteractions(context.Background(),
		created["id"], "carol", 0, copyPastePair, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}

// =============================================================================
// EVENT STREAM
// =============================================================================

func TestEventsStreamDeliversAnswer(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")
	env.startExam(t, login.Token)

	srv := httptest.NewServer(env.server.Handler())
	defer srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/student/events", nil)
	require.NoError(t, err)
	req.Header.Set(sessionHeader, login.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait until the subscription is bound before asking.
	require.Eventually(t, func() bool {
		return env.hub.Bound(login.ChannelID)
	}, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token, askAction("stream me"))
	require.Equal(t, http.StatusAccepted, rec.Code)

	found := make(chan string, 1)
	go func() {
		buf := make([]byte, 4096)
		var acc []byte
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				acc = append(acc, buf[:n]...)
				if bytes.Contains(acc, []byte("event: answer")) {
					found <- string(acc)
					return
				}
			}
			if err != nil {
				found <- string(acc)
				return
			}
		}
	}()

	select {
	case body := <-found:
		assert.Contains(t, body, "event: answer")
		assert.Contains(t, body, `"ended":true`)
	case <-time.After(3 * time.Second):
		t.Fatal("no answer arrived on the event stream")
	}
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecurityHeadersPresent(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRateLimitKicksIn(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.Server.RateLimitPerSecond = 1
	// Rebuild with the tight limit.
	tight := New(env.server.cfg, env.store, env.manager, env.hub, env.sessions,
		env.server.cipher, env.server.signer)

	limited := false
	for i := 0; i < 100; i++ {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.RemoteAddr = "10.1.2.3:4444"
		rec := httptest.NewRecorder()
		tight.Handler().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited)
}

// Guard against accidental session copies mutating shared state.
func TestSessionLifecycleThroughActions(t *testing.T) {
	env := newTestEnv(t)
	examID := env.createExam(t)
	login := env.login(t, security.TicketExam, examID, "alice")

	sess, err := env.sessions.Get(login.Token)
	require.NoError(t, err)
	require.ErrorIs(t, sess.Active(time.Now()), session.ErrNotStarted)

	env.startExam(t, login.Token)
	sess, err = env.sessions.Get(login.Token)
	require.NoError(t, err)
	require.NoError(t, sess.Active(time.Now()))
	assert.False(t, sess.Deadline.IsZero(), "duration should set a deadline")

	rec := env.do(t, http.MethodPost, "/api/student/actions", login.Token,
		map[string]any{"action_type": model.ActionSubmitExam})
	require.Equal(t, http.StatusAccepted, rec.Code)

	sess, err = env.sessions.Get(login.Token)
	require.NoError(t, err)
	assert.True(t, errors.Is(sess.Active(time.Now()), session.ErrEnded))
}
