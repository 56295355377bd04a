// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat implements the chat AI routing and streaming core:
// backend adapters behind the Handler interface, the Manager that
// registers and dispatches to them, the bounded fragment queue that
// correlates streamed results, and the single relay worker that
// persists deltas and pushes them to student sessions.
//
// Three adapter families exist: pass-through (copy/paste transcripts),
// local model servers streaming NDJSON, and remote OpenAI-compatible
// APIs streaming SSE. All of them communicate results exclusively by
// producing Fragment values on the shared queue; only the relay worker
// touches storage and the push hub.
package chat
