// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// EXAMS
// =============================================================================

// SaveExam persists an exam document, assigning an id when missing.
func (s *Store) SaveExam(ctx context.Context, exam *model.Exam) (string, error) {
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	if exam.Created.IsZero() {
		exam.Created = time.Now().UTC()
	}
	return exam.ID, s.saveDocument(ctx, "exams", exam.ID, exam)
}

// FindExam returns one exam by id.
func (s *Store) FindExam(ctx context.Context, id string) (*model.Exam, error) {
	var exam model.Exam
	if err := s.findDocument(ctx, "exams", id, &exam); err != nil {
		return nil, err
	}
	return &exam, nil
}

// ListExams returns every exam.
func (s *Store) ListExams(ctx context.Context) ([]model.Exam, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document FROM exams`)
	if err != nil {
		return nil, fmt.Errorf("failed to query exams: %w", err)
	}
	defer rows.Close()

	var out []model.Exam
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("failed to scan exam: %w", err)
		}
		var exam model.Exam
		if err := json.Unmarshal([]byte(doc), &exam); err != nil {
			return nil, fmt.Errorf("failed to decode exam: %w", err)
		}
		out = append(out, exam)
	}
	return out, rows.Err()
}

// =============================================================================
// SOCRATIC QUESTIONNAIRES
// =============================================================================

// SaveSocrat persists a questionnaire, assigning an id when missing.
func (s *Store) SaveSocrat(ctx context.Context, socrat *model.SocratQuestionnaire) (string, error) {
	if socrat.ID == "" {
		socrat.ID = uuid.NewString()
	}
	if socrat.Created.IsZero() {
		socrat.Created = time.Now().UTC()
	}
	return socrat.ID, s.saveDocument(ctx, "socrats", socrat.ID, socrat)
}

// FindSocrat returns one questionnaire by id.
func (s *Store) FindSocrat(ctx context.Context, id string) (*model.SocratQuestionnaire, error) {
	var socrat model.SocratQuestionnaire
	if err := s.findDocument(ctx, "socrats", id, &socrat); err != nil {
		return nil, err
	}
	return &socrat, nil
}

// =============================================================================
// DOCUMENT HELPERS
// =============================================================================

// saveDocument upserts one JSON document. The table name is always one
// of the fixed schema tables, never caller input.
func (s *Store) saveDocument(ctx context.Context, table, id string, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, document) VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET document = excluded.document`, table),
		id, string(data))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// findDocument loads one JSON document into out.
func (s *Store) findDocument(ctx context.Context, table, id string, out any) error {
	var doc string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT document FROM %s WHERE id = ?`, table), id).Scan(&doc)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}
