// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package push delivers server events to student browsers over
// Server-Sent Events. Every composition session binds one channel id;
// emits to channels nobody is subscribed to are dropped, never queued.
package push

import (
	"encoding/json"
	"log"
	"sync"
)

// =============================================================================
// EVENTS
// =============================================================================

// Event is one named payload delivered to a subscriber.
type Event struct {
	Name string
	Data []byte
}

// subscriberBuffer bounds each subscriber's pending events. A slow
// consumer loses events rather than blocking the emitter.
const subscriberBuffer = 64

// =============================================================================
// HUB
// =============================================================================

// Hub routes events to per-channel subscribers. Emit never blocks.
type Hub struct {
	mu   sync.RWMutex
	subs map[string][]chan Event
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan Event)}
}

// Subscribe binds a new subscriber to channelID. The returned cancel
// function unbinds it and closes the event channel.
func (h *Hub) Subscribe(channelID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	h.subs[channelID] = append(h.subs[channelID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[channelID]
		for i, c := range subs {
			if c == ch {
				h.subs[channelID] = append(subs[:i], subs[i+1:]...)
				close(c)
				break
			}
		}
		if len(h.subs[channelID]) == 0 {
			delete(h.subs, channelID)
		}
	}
	return ch, cancel
}

// Emit delivers one event to every subscriber of channelID. Delivery
// is fire and forget: an unbound channel or a full subscriber buffer
// drops the event with a log line.
func (h *Hub) Emit(event string, payload any, channelID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("PUSH_ENCODE_ERROR | event=%s err=%v", event, err)
		return
	}

	h.mu.RLock()
	subs := h.subs[channelID]
	h.mu.RUnlock()

	if len(subs) == 0 {
		log.Printf("PUSH_DROP | event=%s reason=unbound_channel", event)
		return
	}

	for _, ch := range subs {
		select {
		case ch <- Event{Name: event, Data: data}:
		default:
			log.Printf("PUSH_DROP | event=%s reason=slow_subscriber", event)
		}
	}
}

// Bound reports whether any subscriber is listening on channelID.
func (h *Hub) Bound(channelID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelID]) > 0
}

// CloseChannel drops every subscriber of channelID, closing their
// event channels. Used when a composition session ends.
func (h *Hub) CloseChannel(channelID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[channelID] {
		close(ch)
	}
	delete(h.subs, channelID)
}
