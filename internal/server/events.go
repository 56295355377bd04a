// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"fmt"
	"log"
	"net/http"
	"time"
)

// =============================================================================
// EVENT STREAM
// =============================================================================

// keepAliveInterval spaces SSE comments that keep proxies from
// dropping idle streams.
const keepAliveInterval = 25 * time.Second

// handleStudentEvents binds the session's push channel to a
// server-sent-events stream. Chat answer fragments recorded by the
// relay worker arrive here.
func (s *Server) handleStudentEvents(w http.ResponseWriter, r *http.Request) {
	sess := s.currentSession(w, r)
	if sess == nil {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := s.hub.Subscribe(sess.ChannelID)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("EVENTS_OPEN | student=%s channel=%s", sess.Username, sess.ChannelID)
	defer log.Printf("EVENTS_CLOSE | student=%s channel=%s", sess.Username, sess.ChannelID)

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Name, ev.Data)
			flusher.Flush()

		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
