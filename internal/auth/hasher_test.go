// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CampusGate Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campusgate/campusgate/internal/auth"
)

func TestArgon2idHasher_HashAndVerify(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	hash, err := hasher.Hash("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := hasher.Verify("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = hasher.Verify("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2idHasher_EmptyPassword(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	_, err := hasher.Hash("")
	assert.ErrorIs(t, err, auth.ErrEmptyPassword)
}

func TestArgon2idHasher_SaltVariesPerHash(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	hash1, err := hasher.Hash("same password")
	require.NoError(t, err)
	hash2, err := hasher.Hash("same password")
	require.NoError(t, err)

	assert.NotEqual(t, hash1, hash2)
}

func TestArgon2idHasher_InvalidHashFormats(t *testing.T) {
	hasher := auth.NewArgon2idHasher()

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not a PHC string", "plainhash"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad version field", "$argon2id$vX$m=65536,t=1,p=4$c2FsdA$aGFzaA"},
		{"bad params field", "$argon2id$v=19$nonsense$c2FsdA$aGFzaA"},
		{"bad salt encoding", "$argon2id$v=19$m=65536,t=1,p=4$!!!$aGFzaA"},
		{"bad hash encoding", "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := hasher.Verify("password", tt.hash)
			assert.Error(t, err)
			assert.False(t, ok)
		})
	}
}
