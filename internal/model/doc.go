// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the persistent domain documents of examgate:
// exams, socratic questionnaires, discovered chat models, and the
// closed set of student actions recorded during a composition session.
//
// Student actions form a tagged union keyed by action_type. Every
// action kind is a distinct struct embedding ActionBase, and callers
// dispatch with an exhaustive switch on Action.Kind() rather than
// inspecting loosely typed maps.
package model
