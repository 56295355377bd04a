// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager()
	s := m.Create(KindExam, "exam-1", "alice")
	assert.NotEmpty(t, s.Token)
	assert.NotEmpty(t, s.ChannelID)
	assert.NotEqual(t, s.Token, s.ChannelID)

	loaded, err := m.Get(s.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", loaded.Username)
	assert.Equal(t, KindExam, loaded.Kind)

	_, err = m.Get("missing")
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestSessionLifecycleGating(t *testing.T) {
	m := NewManager()
	s := m.Create(KindExam, "exam-1", "alice")
	now := time.Now()

	loaded, err := m.Get(s.Token)
	require.NoError(t, err)
	assert.ErrorIs(t, loaded.Active(now), ErrNotStarted)

	require.NoError(t, m.MarkStarted(s.Token, time.Hour))
	loaded, err = m.Get(s.Token)
	require.NoError(t, err)
	assert.NoError(t, loaded.Active(now))
	assert.ErrorIs(t, loaded.Active(now.Add(2*time.Hour)), ErrEnded, "deadline exceeded")

	require.NoError(t, m.MarkEnded(s.Token))
	loaded, err = m.Get(s.Token)
	require.NoError(t, err)
	assert.ErrorIs(t, loaded.Active(now), ErrEnded)

	// Starting an ended session is rejected.
	assert.ErrorIs(t, m.MarkStarted(s.Token, time.Hour), ErrEnded)
}

func TestSessionNoTimeLimit(t *testing.T) {
	m := NewManager()
	s := m.Create(KindSocrat, "socrat-1", "bob")
	require.NoError(t, m.MarkStarted(s.Token, 0))

	loaded, err := m.Get(s.Token)
	require.NoError(t, err)
	assert.NoError(t, loaded.Active(time.Now().Add(100*time.Hour)))
}

func TestManagerRemove(t *testing.T) {
	m := NewManager()
	s := m.Create(KindExam, "exam-1", "alice")
	m.Remove(s.Token)
	_, err := m.Get(s.Token)
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestGetReturnsCopy(t *testing.T) {
	m := NewManager()
	s := m.Create(KindExam, "exam-1", "alice")

	loaded, err := m.Get(s.Token)
	require.NoError(t, err)
	loaded.Ended = true

	again, err := m.Get(s.Token)
	require.NoError(t, err)
	assert.False(t, again.Ended, "mutating the copy must not touch the stored session")
}
