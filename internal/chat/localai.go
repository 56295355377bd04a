// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// =============================================================================
// LOCAL AI HANDLER
// =============================================================================

// endSentinel is the in-band completion marker some local model
// servers append to their last token. It is translated into stream
// finality and never delivered as answer content.
const endSentinel = "\n\n<end>"

// defaultLocalAITimeout bounds one local completion stream.
const defaultLocalAITimeout = 10 * time.Minute

// LocalAIHandler streams completions from a locally hosted model
// server speaking newline-delimited JSON.
//
// Connect is asynchronous: it starts a background health probe and
// returns immediately, flipping Connected once the server answers.
// Callers poll Connected with a bounded wait.
type LocalAIHandler struct {
	name    string
	baseURL string

	queue  chan<- Fragment
	client *http.Client

	connected atomic.Bool
	cancel    context.CancelFunc
}

// LocalAIOption configures a LocalAIHandler.
type LocalAIOption func(*LocalAIHandler)

// WithLocalAIHTTPClient substitutes the HTTP client, mainly for tests.
func WithLocalAIHTTPClient(c *http.Client) LocalAIOption {
	return func(h *LocalAIHandler) { h.client = c }
}

// NewLocalAIHandler creates a local model handler producing onto queue.
func NewLocalAIHandler(name, baseURL string, queue chan<- Fragment, opts ...LocalAIOption) *LocalAIHandler {
	h := &LocalAIHandler{
		name:    name,
		baseURL: baseURL,
		queue:   queue,
		client:  &http.Client{Timeout: defaultLocalAITimeout},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Key returns the backend identifier.
func (h *LocalAIHandler) Key() string { return KeyLocalAI }

// Name returns the display name.
func (h *LocalAIHandler) Name() string { return h.name }

// ModelName returns the display name used for discovered models.
func (h *LocalAIHandler) ModelName() string { return h.name }

// CopyPaste reports false: this backend generates content.
func (h *LocalAIHandler) CopyPaste() bool { return false }

// PrivateKeyRequired reports false: the server is local.
func (h *LocalAIHandler) PrivateKeyRequired() bool { return false }

// Connected reports whether the health probe has succeeded.
func (h *LocalAIHandler) Connected() bool { return h.connected.Load() }

// Connect starts the background health probe. It returns immediately;
// Connected flips once the local server answers.
func (h *LocalAIHandler) Connect(ctx context.Context) error {
	probeCtx, cancel := context.WithCancel(ctx)
	h.cancel = cancel

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			if h.probe(probeCtx) {
				h.connected.Store(true)
				log.Printf("LOCALAI_CONNECTED | base_url=%s", h.baseURL)
				return
			}
			select {
			case <-probeCtx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return nil
}

// probe checks whether the local server answers its health endpoint.
func (h *LocalAIHandler) probe(ctx context.Context) bool {
	reqCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, h.baseURL+"/api/version", nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Disconnect stops the probe and marks the handler unavailable.
func (h *LocalAIHandler) Disconnect() error {
	if h.cancel != nil {
		h.cancel()
	}
	h.connected.Store(false)
	return nil
}

// localModelList is the local server's model inventory response.
type localModelList struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

// RequestAvailableModels fetches the local server's model inventory
// and publishes one model fragment per entry, the last marked ended.
func (h *LocalAIHandler) RequestAvailableModels(ctx context.Context) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("model listing failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model listing failed: status %d", resp.StatusCode)
	}

	var list localModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("failed to decode model list: %w", err)
	}

	if len(list.Models) == 0 {
		h.queue <- modelFragment(KeyLocalAI, DefaultModelKey, h.name, true)
		return nil
	}
	for i, m := range list.Models {
		key := m.Model
		if key == "" {
			key = m.Name
		}
		h.queue <- modelFragment(KeyLocalAI, key, m.Name, i == len(list.Models)-1)
	}
	return nil
}

// localChatLine is one NDJSON line of the local streaming response.
type localChatLine struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// SendPrompt dispatches one prompt for streaming. It returns once the
// worker goroutine is launched; errors after that point surface as a
// synthetic terminal fragment.
func (h *LocalAIHandler) SendPrompt(ctx context.Context, req PromptRequest) error {
	if !h.connected.Load() {
		return ErrNotConnected
	}

	// The stream outlives the originating HTTP request: detach from
	// the caller's cancellation so the 202 response does not kill it.
	streamCtx := context.WithoutCancel(ctx)
	go func() {
		if err := h.stream(streamCtx, req); err != nil {
			log.Printf("LOCALAI_STREAM_ERROR | action_id=%s err=%v", req.Action.ID, err)
			h.queue <- answerFragment(KeyLocalAI, req.Action.ModelKey, req.Tag(), nil, true)
		}
	}()
	return nil
}

// stream reads the NDJSON response line by line, producing one answer
// fragment per content delta and a terminal fragment at completion.
// The end sentinel, when present, ends the stream without being
// delivered.
func (h *LocalAIHandler) stream(ctx context.Context, req PromptRequest) error {
	body, err := json.Marshal(map[string]any{
		"model": req.Action.ModelKey,
		"messages": []ChatMessage{
			{Role: "user", Content: req.Action.PromptText()},
		},
		"stream": true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &BackendError{
			ChatKey:  KeyLocalAI,
			ActionID: req.Action.ID,
			Err:      fmt.Errorf("upstream status %d: %s", resp.StatusCode, bytes.TrimSpace(errBody)),
		}
	}

	tag := req.Tag()
	reader := bufio.NewReader(resp.Body)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				h.queue <- answerFragment(KeyLocalAI, req.Action.ModelKey, tag, nil, true)
				return nil
			}
			return &BackendError{ChatKey: KeyLocalAI, ActionID: req.Action.ID, Err: err}
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var chunk localChatLine
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Skip malformed lines
			continue
		}

		content := chunk.Message.Content
		ended := chunk.Done
		if idx := strings.Index(content, endSentinel); idx >= 0 {
			content = content[:idx]
			ended = true
		}

		if ended {
			if content != "" {
				h.queue <- answerFragment(KeyLocalAI, req.Action.ModelKey, tag, &content, true)
			} else {
				h.queue <- answerFragment(KeyLocalAI, req.Action.ModelKey, tag, nil, true)
			}
			return nil
		}
		if content != "" {
			h.queue <- answerFragment(KeyLocalAI, req.Action.ModelKey, tag, &content, false)
		}
	}
}
