// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides sqlite persistence for exams, socratic
// questionnaires, the discovered chat model catalog and student
// actions, conversation turns included.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound is returned when a requested document does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store wraps the sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the database at path and
// initializes the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// initSchema creates tables and indexes if they do not exist.
func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS student_actions (
		id               TEXT PRIMARY KEY,
		action_type      TEXT NOT NULL,
		exam_id          TEXT NOT NULL,
		student_username TEXT NOT NULL,
		timestamp        TEXT NOT NULL,
		question_idx     INTEGER,
		chat_id          TEXT,
		answer           TEXT,
		achieved         INTEGER NOT NULL DEFAULT 0,
		payload          TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_student
		ON student_actions(exam_id, student_username);
	CREATE INDEX IF NOT EXISTS idx_actions_chat
		ON student_actions(exam_id, student_username, question_idx, chat_id);

	CREATE TABLE IF NOT EXISTS chat_models (
		chat_key  TEXT NOT NULL,
		model_key TEXT NOT NULL,
		name      TEXT NOT NULL,
		PRIMARY KEY (chat_key, model_key)
	);

	CREATE TABLE IF NOT EXISTS exams (
		id       TEXT PRIMARY KEY,
		document TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS socrats (
		id       TEXT PRIMARY KEY,
		document TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
