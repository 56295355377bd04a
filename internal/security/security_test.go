// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *KeyCipher {
	t.Helper()
	c, err := NewKeyCipher("test-secret", []byte("test-salt"))
	require.NoError(t, err)
	return c
}

func TestKeyCipherRoundTrip(t *testing.T) {
	c := testCipher(t)

	encrypted, err := c.EncryptString("sk-very-secret")
	require.NoError(t, err)
	assert.True(t, IsEncrypted(encrypted))
	assert.NotContains(t, encrypted, "sk-very-secret")

	decrypted, err := c.DecryptString(encrypted)
	require.NoError(t, err)
	assert.Equal(t, "sk-very-secret", decrypted)
}

func TestKeyCipherPassThrough(t *testing.T) {
	c := testCipher(t)

	out, err := c.EncryptString("")
	require.NoError(t, err)
	assert.Equal(t, "", out)

	// Plaintext without the prefix decrypts to itself.
	out, err = c.DecryptString("plain-value")
	require.NoError(t, err)
	assert.Equal(t, "plain-value", out)

	// Double encryption is a no-op.
	once, err := c.EncryptString("value")
	require.NoError(t, err)
	twice, err := c.EncryptString(once)
	require.NoError(t, err)
	assert.Equal(t, once, twice)
}

func TestKeyCipherRejectsTamperedCiphertext(t *testing.T) {
	c := testCipher(t)

	encrypted, err := c.EncryptString("sk-secret")
	require.NoError(t, err)

	tampered := encrypted[:len(encrypted)-2] + "AA"
	_, err = c.DecryptString(tampered)
	assert.Error(t, err)
}

func TestKeyCipherDifferentSecretsCannotDecrypt(t *testing.T) {
	c1 := testCipher(t)
	c2, err := NewKeyCipher("other-secret", []byte("test-salt"))
	require.NoError(t, err)

	encrypted, err := c1.EncryptString("sk-secret")
	require.NoError(t, err)

	_, err = c2.DecryptString(encrypted)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestKeyCipherRequiresSecret(t *testing.T) {
	_, err := NewKeyCipher("", []byte("salt"))
	assert.Error(t, err)
}

func TestTicketRoundTrip(t *testing.T) {
	signer, err := NewTicketSigner("app-secret", 0)
	require.NoError(t, err)

	serialized, err := signer.Sign(Ticket{
		Kind:     TicketExam,
		ExamID:   "exam-1",
		Username: "alice",
	})
	require.NoError(t, err)
	assert.NotContains(t, serialized, " ")

	ticket, err := signer.Verify(serialized)
	require.NoError(t, err)
	assert.Equal(t, TicketExam, ticket.Kind)
	assert.Equal(t, "exam-1", ticket.ExamID)
	assert.Equal(t, "alice", ticket.Username)
	assert.False(t, ticket.Issued.IsZero())
}

func TestTicketRejectsTampering(t *testing.T) {
	signer, err := NewTicketSigner("app-secret", 0)
	require.NoError(t, err)

	serialized, err := signer.Sign(Ticket{Kind: TicketExam, ExamID: "exam-1", Username: "alice"})
	require.NoError(t, err)

	// Flip a payload byte.
	parts := strings.SplitN(serialized, ".", 2)
	mutated := "A" + parts[0][1:] + "." + parts[1]
	_, err = signer.Verify(mutated)
	assert.ErrorIs(t, err, ErrInvalidTicket)

	// Missing signature.
	_, err = signer.Verify(parts[0])
	assert.ErrorIs(t, err, ErrInvalidTicket)

	// Signed with a different secret.
	other, err := NewTicketSigner("other-secret", 0)
	require.NoError(t, err)
	_, err = other.Verify(serialized)
	assert.ErrorIs(t, err, ErrInvalidTicket)
}

func TestTicketExpiry(t *testing.T) {
	signer, err := NewTicketSigner("app-secret", time.Minute)
	require.NoError(t, err)

	serialized, err := signer.Sign(Ticket{
		Kind:     TicketSocrat,
		ExamID:   "socrat-1",
		Username: "bob",
		Issued:   time.Now().Add(-2 * time.Minute),
	})
	require.NoError(t, err)

	_, err = signer.Verify(serialized)
	assert.ErrorIs(t, err, ErrTicketExpired)
}
