// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"
)

// =============================================================================
// OPENAI HANDLER
// =============================================================================

// Default tuning for the remote streaming backend.
const (
	defaultOpenAIPoolSize     = 4
	defaultOpenAITemperature  = 0.6
	defaultOpenAISystemPrompt = "You are a helpful assistant."
	defaultOpenAIHistoryDepth = 10
	defaultOpenAITimeout      = 120 * time.Second
)

// OpenAIModel describes one remote model offered to students.
type OpenAIModel struct {
	Key  string
	Name string
}

// ChatMessage is one message of an OpenAI-compatible chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatRequest is the OpenAI-compatible streaming completion request.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream"`
}

// streamChunk is a single chunk of the SSE completion stream.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// content returns the content from the first choice's delta.
func (c *streamChunk) content() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// done reports whether the stream has finished.
func (c *streamChunk) done() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != ""
}

// OpenAIHandler streams completions from a remote OpenAI-compatible
// API. Each exam supplies its own API key; the handler holds no
// credentials of its own.
//
// Concurrency is bounded by a semaphore pool. A worker goroutine
// acquires its slot before opening the upstream stream, so the
// fragments of one completion are produced contiguously while the
// slot is held.
type OpenAIHandler struct {
	name         string
	baseURL      string
	models       []OpenAIModel
	temperature  float64
	systemPrompt string
	historyDepth int

	queue   chan<- Fragment
	history History
	client  *http.Client
	slots   chan struct{}

	connected atomic.Bool
}

// OpenAIOption configures an OpenAIHandler.
type OpenAIOption func(*OpenAIHandler)

// WithOpenAIPoolSize bounds concurrent upstream streams.
func WithOpenAIPoolSize(n int) OpenAIOption {
	return func(h *OpenAIHandler) {
		if n > 0 {
			h.slots = make(chan struct{}, n)
		}
	}
}

// WithOpenAITemperature sets the sampling temperature.
func WithOpenAITemperature(t float64) OpenAIOption {
	return func(h *OpenAIHandler) { h.temperature = t }
}

// WithOpenAISystemPrompt overrides the system prompt.
func WithOpenAISystemPrompt(p string) OpenAIOption {
	return func(h *OpenAIHandler) { h.systemPrompt = p }
}

// WithOpenAIHistoryDepth bounds how many prior turns are replayed as
// conversation context.
func WithOpenAIHistoryDepth(n int) OpenAIOption {
	return func(h *OpenAIHandler) {
		if n > 0 {
			h.historyDepth = n
		}
	}
}

// WithOpenAIHTTPClient substitutes the HTTP client, mainly for tests.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(h *OpenAIHandler) { h.client = c }
}

// NewOpenAIHandler creates a remote streaming handler. history may be
// nil, in which case every prompt is sent without prior context.
func NewOpenAIHandler(name, baseURL string, models []OpenAIModel, queue chan<- Fragment, history History, opts ...OpenAIOption) *OpenAIHandler {
	h := &OpenAIHandler{
		name:         name,
		baseURL:      baseURL,
		models:       models,
		temperature:  defaultOpenAITemperature,
		systemPrompt: defaultOpenAISystemPrompt,
		historyDepth: defaultOpenAIHistoryDepth,
		queue:        queue,
		history:      history,
		client:       &http.Client{Timeout: defaultOpenAITimeout},
		slots:        make(chan struct{}, defaultOpenAIPoolSize),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Key returns the backend identifier.
func (h *OpenAIHandler) Key() string { return KeyOpenAI }

// Name returns the display name.
func (h *OpenAIHandler) Name() string { return h.name }

// ModelName returns the display name used for discovered models.
func (h *OpenAIHandler) ModelName() string { return h.name }

// CopyPaste reports false: this backend generates content.
func (h *OpenAIHandler) CopyPaste() bool { return false }

// PrivateKeyRequired reports true: every exam supplies its own key.
func (h *OpenAIHandler) PrivateKeyRequired() bool { return true }

// Connected reports whether the handler accepts prompts.
func (h *OpenAIHandler) Connected() bool { return h.connected.Load() }

// Connect is immediate: the upstream API is stateless HTTP and
// credentials only exist per exam, so there is nothing to handshake.
func (h *OpenAIHandler) Connect(ctx context.Context) error {
	h.connected.Store(true)
	return nil
}

// Disconnect marks the handler unavailable.
func (h *OpenAIHandler) Disconnect() error {
	h.connected.Store(false)
	return nil
}

// RequestAvailableModels publishes the configured model list. The last
// fragment is marked ended.
func (h *OpenAIHandler) RequestAvailableModels(ctx context.Context) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}
	if len(h.models) == 0 {
		h.queue <- modelFragment(KeyOpenAI, DefaultModelKey, h.name, true)
		return nil
	}
	for i, m := range h.models {
		h.queue <- modelFragment(KeyOpenAI, m.Key, m.Name, i == len(h.models)-1)
	}
	return nil
}

// SendPrompt dispatches one prompt for streaming. It returns once the
// request is queued for a pool slot; upstream errors after that point
// surface as a synthetic terminal fragment.
func (h *OpenAIHandler) SendPrompt(ctx context.Context, req PromptRequest) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}
	if req.PrivateKey == "" {
		return errors.New("missing api key for remote backend")
	}

	// The stream outlives the originating HTTP request: detach from
	// the caller's cancellation so the 202 response does not kill it.
	go h.run(context.WithoutCancel(ctx), req)
	return nil
}

// run acquires a pool slot, streams the completion and guarantees a
// terminal fragment for the turn.
func (h *OpenAIHandler) run(ctx context.Context, req PromptRequest) {
	select {
	case h.slots <- struct{}{}:
	case <-ctx.Done():
		h.terminate(req.Tag(), ctx.Err())
		return
	}
	defer func() { <-h.slots }()

	if err := h.stream(ctx, req); err != nil {
		h.terminate(req.Tag(), err)
	}
}

// terminate logs a streaming failure and produces the synthetic
// terminal fragment so the turn still reaches finality.
func (h *OpenAIHandler) terminate(tag RequestTag, err error) {
	log.Printf("OPENAI_STREAM_ERROR | action_id=%s err=%v", tag.ActionID, err)
	h.queue <- answerFragment(KeyOpenAI, "", tag, nil, true)
}

// stream opens the upstream SSE stream and translates its chunks into
// answer fragments. On success the last fragment is marked ended.
func (h *OpenAIHandler) stream(ctx context.Context, req PromptRequest) error {
	messages, err := h.buildMessages(ctx, req)
	if err != nil {
		return err
	}

	body, err := json.Marshal(chatRequest{
		Model:       req.Action.ModelKey,
		Messages:    messages,
		Temperature: h.temperature,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.PrivateKey)
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BackendError{
			ChatKey:  KeyOpenAI,
			ActionID: req.Action.ID,
			Err:      fmt.Errorf("upstream status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody)),
		}
	}

	tag := req.Tag()
	reader := newSSEReader(resp.Body)
	ended := false

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		data, err := reader.readEvent()
		if err != nil {
			if err == io.EOF {
				break
			}
			return &BackendError{ChatKey: KeyOpenAI, ActionID: req.Action.ID, Err: err}
		}

		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			// Skip malformed chunks
			continue
		}

		content := chunk.content()
		if chunk.done() {
			ended = true
			if content != "" {
				h.queue <- answerFragment(KeyOpenAI, req.Action.ModelKey, tag, &content, true)
			} else {
				h.queue <- answerFragment(KeyOpenAI, req.Action.ModelKey, tag, nil, true)
			}
			break
		}
		if content != "" {
			h.queue <- answerFragment(KeyOpenAI, req.Action.ModelKey, tag, &content, false)
		}
	}

	if !ended {
		h.queue <- answerFragment(KeyOpenAI, req.Action.ModelKey, tag, nil, true)
	}
	return nil
}

// buildMessages rebuilds the conversation context: the system prompt,
// the student's prior turns for this question and chat (achieved turns
// contribute the assistant reply as well), then the current prompt.
// The current turn is already persisted, so it arrives as the last
// history entry; when history is unavailable the prompt is sent alone.
func (h *OpenAIHandler) buildMessages(ctx context.Context, req PromptRequest) ([]ChatMessage, error) {
	messages := []ChatMessage{{Role: "system", Content: h.systemPrompt}}

	if h.history == nil {
		return append(messages, ChatMessage{Role: "user", Content: req.Action.PromptText()}), nil
	}

	turns, err := h.history.LastChatInteractions(ctx, req.Action.ExamID, req.Action.StudentUsername,
		req.Action.QuestionIdx, req.Action.ChatID, h.historyDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}

	seen := false
	for i := range turns {
		turn := &turns[i]
		messages = append(messages, ChatMessage{Role: "user", Content: turn.PromptText()})
		if turn.Achieved && turn.Answer != nil {
			messages = append(messages, ChatMessage{Role: "assistant", Content: *turn.Answer})
		}
		if turn.ID == req.Action.ID {
			seen = true
		}
	}
	if !seen {
		messages = append(messages, ChatMessage{Role: "user", Content: req.Action.PromptText()})
	}
	return messages, nil
}
