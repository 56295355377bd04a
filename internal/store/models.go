// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"fmt"

	"github.com/jeranaias/examgate/internal/model"
)

// =============================================================================
// CHAT MODEL CATALOG
// =============================================================================

// ClearChatModels empties the discovered model catalog. Called once at
// manager startup before rediscovery.
func (s *Store) ClearChatModels(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chat_models`); err != nil {
		return fmt.Errorf("failed to clear model catalog: %w", err)
	}
	return nil
}

// UpsertChatModel inserts or refreshes one catalog entry.
func (s *Store) UpsertChatModel(ctx context.Context, m model.ChatModel) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_models (chat_key, model_key, name)
		VALUES (?, ?, ?)
		ON CONFLICT (chat_key, model_key) DO UPDATE SET name = excluded.name`,
		m.ChatKey, m.ModelKey, m.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert model: %w", err)
	}
	return nil
}

// ListChatModels returns the catalog ordered by chat and model key.
func (s *Store) ListChatModels(ctx context.Context) ([]model.ChatModel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT chat_key, model_key, name FROM chat_models
		ORDER BY chat_key, model_key`)
	if err != nil {
		return nil, fmt.Errorf("failed to query model catalog: %w", err)
	}
	defer rows.Close()

	var out []model.ChatModel
	for rows.Next() {
		var m model.ChatModel
		if err := rows.Scan(&m.ChatKey, &m.ModelKey, &m.Name); err != nil {
			return nil, fmt.Errorf("failed to scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
