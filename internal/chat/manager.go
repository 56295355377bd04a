// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// MANAGER
// =============================================================================

// Connection wait bounds applied to each handler at startup.
const (
	connectAttempts = 5
	connectWait     = time.Second
)

// defaultQueueSize bounds the fragment queue.
const defaultQueueSize = 256

// ManagerStore extends the relay's persistence surface with catalog
// reads the manager needs when listing backends.
type ManagerStore interface {
	Store

	// ListChatModels returns the discovered model catalog.
	ListChatModels(ctx context.Context) ([]model.ChatModel, error)
}

// Manager owns the backend registry, the fragment queue and the relay
// worker. It is the single entry point for dispatching prompts and
// listing backends.
type Manager struct {
	store ManagerStore
	push  Pusher

	mu       sync.RWMutex
	handlers map[string]Handler
	order    []string
	started  bool
	stopped  bool

	queue chan Fragment
	wg    sync.WaitGroup
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithQueueSize overrides the fragment queue capacity.
func WithQueueSize(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.queue = make(chan Fragment, n)
		}
	}
}

// NewManager creates a manager. Handlers are registered afterwards and
// must produce onto Queue().
func NewManager(store ManagerStore, push Pusher, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		push:     push,
		handlers: make(map[string]Handler),
		queue:    make(chan Fragment, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Queue returns the fragment queue handlers produce onto.
func (m *Manager) Queue() chan<- Fragment { return m.queue }

// Register adds one backend handler. Keys are unique.
func (m *Manager) Register(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return fmt.Errorf("cannot register %s: manager already started", h.Key())
	}
	if _, exists := m.handlers[h.Key()]; exists {
		return fmt.Errorf("duplicate chat backend: %s", h.Key())
	}
	m.handlers[h.Key()] = h
	m.order = append(m.order, h.Key())
	return nil
}

// Start launches the relay worker, connects every registered handler
// with a bounded wait, clears the model catalog and triggers
// rediscovery on each connected backend.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager already started")
	}
	m.started = true
	handlers := m.snapshotLocked()
	m.mu.Unlock()

	worker := &relay{store: m.store, push: m.push}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		worker.run(ctx, m.queue)
	}()

	for _, h := range handlers {
		if err := h.Connect(ctx); err != nil {
			log.Printf("CHAT_CONNECT_ERROR | chat_key=%s err=%v", h.Key(), err)
			continue
		}
		m.awaitConnected(ctx, h)
	}

	return m.Rediscover(ctx)
}

// Rediscover clears the model catalog and asks every connected backend
// to publish its models again. Disconnected backends are skipped with
// a log line.
func (m *Manager) Rediscover(ctx context.Context) error {
	m.mu.RLock()
	handlers := m.snapshotLocked()
	m.mu.RUnlock()

	if err := m.store.ClearChatModels(ctx); err != nil {
		return fmt.Errorf("failed to clear model catalog: %w", err)
	}

	for _, h := range handlers {
		if !h.Connected() {
			log.Printf("CHAT_UNAVAILABLE | chat_key=%s", h.Key())
			continue
		}
		if err := h.RequestAvailableModels(ctx); err != nil {
			log.Printf("CHAT_DISCOVERY_ERROR | chat_key=%s err=%v", h.Key(), err)
		}
	}
	return nil
}

// awaitConnected polls a handler's connection state with a bounded
// wait. Handlers that connect asynchronously get connectAttempts
// chances one second apart.
func (m *Manager) awaitConnected(ctx context.Context, h Handler) {
	for attempt := 0; attempt < connectAttempts; attempt++ {
		if h.Connected() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(connectWait):
		}
	}
	if !h.Connected() {
		log.Printf("CHAT_CONNECT_TIMEOUT | chat_key=%s attempts=%d", h.Key(), connectAttempts)
	}
}

// Stop disconnects every handler, closes the queue and waits for the
// relay worker to drain it.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped || !m.started {
		m.stopped = true
		m.mu.Unlock()
		return
	}
	m.stopped = true
	handlers := m.snapshotLocked()
	m.mu.Unlock()

	for _, h := range handlers {
		if err := h.Disconnect(); err != nil {
			log.Printf("CHAT_DISCONNECT_ERROR | chat_key=%s err=%v", h.Key(), err)
		}
	}
	close(m.queue)
	m.wg.Wait()
}

// snapshotLocked returns handlers in registration order. Caller holds mu.
func (m *Manager) snapshotLocked() []Handler {
	out := make([]Handler, 0, len(m.order))
	for _, key := range m.order {
		out = append(out, m.handlers[key])
	}
	return out
}

// =============================================================================
// BACKEND LISTING
// =============================================================================

// AvailableChats describes every connected backend together with its
// discovered models. This is the author-time catalog exams and
// questionnaires select pairs from.
func (m *Manager) AvailableChats(ctx context.Context) ([]model.ChatAIDescription, error) {
	return m.describe(ctx, func(Handler, model.ChatModel) bool { return true })
}

// ChoicesForExam narrows the catalog to the backend and model pairs
// the exam author pre-selected. Backends with no selected model are
// dropped entirely.
func (m *Manager) ChoicesForExam(ctx context.Context, exam *model.Exam) ([]model.ChatAIDescription, error) {
	return m.describe(ctx, func(_ Handler, cm model.ChatModel) bool {
		return exam.ChatAllowed(cm.ChatKey, cm.ModelKey)
	})
}

// ChoicesForQuestionnaire narrows the catalog to the questionnaire's
// one selected pair. Pass-through backends cannot drive a guided
// dialogue and are excluded regardless of selection.
func (m *Manager) ChoicesForQuestionnaire(ctx context.Context, socrat *model.SocratQuestionnaire) ([]model.ChatAIDescription, error) {
	return m.describe(ctx, func(h Handler, cm model.ChatModel) bool {
		return !h.CopyPaste() && cm.ID() == socrat.SelectedChat
	})
}

// describe lists connected handlers with the catalog models passing
// the pair filter attached. Handlers whose models are all filtered
// out are omitted.
func (m *Manager) describe(ctx context.Context, keep func(Handler, model.ChatModel) bool) ([]model.ChatAIDescription, error) {
	catalog, err := m.store.ListChatModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list model catalog: %w", err)
	}
	byChat := make(map[string][]model.ChatModel)
	for _, cm := range catalog {
		byChat[cm.ChatKey] = append(byChat[cm.ChatKey], cm)
	}

	m.mu.RLock()
	handlers := m.snapshotLocked()
	m.mu.RUnlock()

	var out []model.ChatAIDescription
	for _, h := range handlers {
		if !h.Connected() {
			continue
		}
		var models []model.ChatModel
		for _, cm := range byChat[h.Key()] {
			if keep(h, cm) {
				models = append(models, cm)
			}
		}
		if len(models) == 0 {
			continue
		}
		out = append(out, model.ChatAIDescription{
			Key:                h.Key(),
			Name:               h.Name(),
			CopyPaste:          h.CopyPaste(),
			PrivateKeyRequired: h.PrivateKeyRequired(),
			Models:             models,
		})
	}
	return out, nil
}

// =============================================================================
// PROMPT DISPATCH
// =============================================================================

// ProcessPrompt validates and dispatches one conversation turn to its
// backend. The action must already be persisted; its ID correlates
// every streamed fragment. Caller-facing failures (missing prompt,
// unknown backend, backend down) are returned synchronously, before
// anything is streamed.
func (m *Manager) ProcessPrompt(ctx context.Context, action *model.AskChatAI, channelID, privateKey string) error {
	m.mu.RLock()
	stopped := m.stopped
	h, known := m.handlers[action.ChatKey]
	m.mu.RUnlock()

	if stopped {
		return ErrManagerStopped
	}
	if action.PromptText() == "" {
		return ErrMissingPrompt
	}
	if !known {
		return &UnknownChatError{ChatKey: action.ChatKey}
	}
	if !h.Connected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, action.ChatKey)
	}
	if h.PrivateKeyRequired() && privateKey == "" {
		return fmt.Errorf("backend %s requires an api key", action.ChatKey)
	}

	log.Printf("PROMPT_DISPATCH | chat_key=%s model_key=%s action_id=%s", action.ChatKey, action.ModelKey, action.ID)
	return h.SendPrompt(ctx, PromptRequest{
		Action:     action,
		ChannelID:  channelID,
		PrivateKey: privateKey,
	})
}
