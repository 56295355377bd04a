// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/examgate/internal/chat"
	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// ACTION WRITES
// =============================================================================

// CreateAction persists one student action and returns its id,
// assigning one when the action carries none.
func (s *Store) CreateAction(ctx context.Context, action model.Action) (string, error) {
	base := action.Base()
	if base.ID == "" {
		base.ID = uuid.NewString()
	}
	if base.Timestamp.IsZero() {
		base.Timestamp = time.Now().UTC()
	}
	base.Type = action.Kind()

	payload, err := model.EncodeAction(action)
	if err != nil {
		return "", fmt.Errorf("failed to encode action: %w", err)
	}

	var questionIdx sql.NullInt64
	var chatID sql.NullString
	var answer sql.NullString
	achieved := 0
	if ask, ok := action.(*model.AskChatAI); ok {
		questionIdx = sql.NullInt64{Int64: int64(ask.QuestionIdx), Valid: true}
		chatID = sql.NullString{String: ask.ChatID, Valid: true}
		if ask.Answer != nil {
			answer = sql.NullString{String: *ask.Answer, Valid: true}
		}
		if ask.Achieved {
			achieved = 1
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO student_actions
			(id, action_type, exam_id, student_username, timestamp,
			 question_idx, chat_id, answer, achieved, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		base.ID, string(base.Type), base.ExamID, base.StudentUsername,
		base.Timestamp.Format(time.RFC3339Nano),
		questionIdx, chatID, answer, achieved, string(payload))
	if err != nil {
		return "", fmt.Errorf("failed to insert action: %w", err)
	}
	return base.ID, nil
}

// AppendChatAnswer appends one delta to a conversation turn's answer.
// A NULL answer becomes the delta; anything else gets the delta
// concatenated. The guard on achieved makes finality monotonic: a
// turn that already received its terminal fragment rejects further
// deltas with chat.ErrTurnFinal.
func (s *Store) AppendChatAnswer(ctx context.Context, actionID string, delta string, achieved bool) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE student_actions
		SET answer = CASE WHEN answer IS NULL THEN ? ELSE answer || ? END,
		    achieved = CASE WHEN ? THEN 1 ELSE achieved END
		WHERE id = ? AND action_type = ? AND achieved = 0`,
		delta, delta, achieved, actionID, string(model.ActionAskChatAI))
	if err != nil {
		return fmt.Errorf("failed to append answer: %w", err)
	}
	return s.checkTurnUpdated(ctx, res, actionID)
}

// SetChatAchieved marks a conversation turn final without touching its
// answer. Returns chat.ErrTurnFinal when the turn is already final.
func (s *Store) SetChatAchieved(ctx context.Context, actionID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE student_actions
		SET achieved = 1
		WHERE id = ? AND action_type = ? AND achieved = 0`,
		actionID, string(model.ActionAskChatAI))
	if err != nil {
		return fmt.Errorf("failed to mark turn achieved: %w", err)
	}
	return s.checkTurnUpdated(ctx, res, actionID)
}

// checkTurnUpdated distinguishes a missing turn from an already final
// one when an update matched no row.
func (s *Store) checkTurnUpdated(ctx context.Context, res sql.Result, actionID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var achieved int
	err = s.db.QueryRowContext(ctx, `
		SELECT achieved FROM student_actions WHERE id = ? AND action_type = ?`,
		actionID, string(model.ActionAskChatAI)).Scan(&achieved)
	if err == sql.ErrNoRows {
		return fmt.Errorf("turn %s: %w", actionID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check turn state: %w", err)
	}
	if achieved != 0 {
		return fmt.Errorf("turn %s: %w", actionID, chat.ErrTurnFinal)
	}
	return fmt.Errorf("turn %s: update matched no row", actionID)
}

// RemoveExternalResource marks a declared external resource removed.
func (s *Store) RemoveExternalResource(ctx context.Context, actionID string, when time.Time) error {
	action, err := s.FindAction(ctx, actionID)
	if err != nil {
		return err
	}
	rsc, ok := action.(*model.ExternalResource)
	if !ok {
		return fmt.Errorf("action %s is not an external resource", actionID)
	}
	rsc.Removed = &when

	payload, err := model.EncodeAction(rsc)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE student_actions SET payload = ? WHERE id = ?`,
		string(payload), actionID)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}
	return nil
}

// =============================================================================
// ACTION READS
// =============================================================================

// FindAction returns one action by id.
func (s *Store) FindAction(ctx context.Context, actionID string) (model.Action, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT payload, answer, achieved FROM student_actions WHERE id = ?`, actionID)
	return scanAction(row)
}

// ActionsForStudent returns a student's actions for one exam, oldest
// first.
func (s *Store) ActionsForStudent(ctx context.Context, examID, username string) ([]model.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, answer, achieved FROM student_actions
		WHERE exam_id = ? AND student_username = ?
		ORDER BY timestamp ASC, rowid ASC`, examID, username)
	if err != nil {
		return nil, fmt.Errorf("failed to query actions: %w", err)
	}
	defer rows.Close()

	var out []model.Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, action)
	}
	return out, rows.Err()
}

// LastChatInteractions returns the student's most recent conversation
// turns for one question and chat, oldest first, capped at limit.
// The currently streaming turn is included.
func (s *Store) LastChatInteractions(ctx context.Context, examID, username string, questionIdx int, chatID string, limit int) ([]model.AskChatAI, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload, answer, achieved FROM student_actions
		WHERE exam_id = ? AND student_username = ?
		  AND question_idx = ? AND chat_id = ? AND action_type = ?
		ORDER BY timestamp DESC, rowid DESC
		LIMIT ?`,
		examID, username, questionIdx, chatID, string(model.ActionAskChatAI), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	defer rows.Close()

	var turns []model.AskChatAI
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		ask, ok := action.(*model.AskChatAI)
		if !ok {
			continue
		}
		turns = append(turns, *ask)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query, oldest-first for replay.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAction decodes a stored action and overlays the live answer and
// finality columns, which the relay updates without rewriting the
// payload document.
func scanAction(row rowScanner) (model.Action, error) {
	var payload string
	var answer sql.NullString
	var achieved int
	if err := row.Scan(&payload, &answer, &achieved); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan action: %w", err)
	}

	action, err := model.DecodeAction([]byte(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to decode stored action: %w", err)
	}
	if ask, ok := action.(*model.AskChatAI); ok {
		if answer.Valid {
			a := answer.String
			ask.Answer = &a
		}
		ask.Achieved = achieved != 0
	}
	return action, nil
}
