package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHashPassword_Deterministic(t *testing.T) {
	first := HashPassword("hunter2")
	second := HashPassword("hunter2")
	assert.Equal(t, first, second)
	assert.Len(t, first, 128) // hex SHA-512
}

func TestHashPassword_DistinctInputs(t *testing.T) {
	assert.NotEqual(t, HashPassword("hunter2"), HashPassword("hunter3"))
}

func TestNewCredential_NeverStoresPlaintext(t *testing.T) {
	cred := NewCredential("alice", "correct horse battery staple")
	assert.NotContains(t, cred.Digest, "correct horse")
	assert.NotContains(t, cred.AuthArg(), "correct horse")
	assert.NoError(t, cred.Validate())
}

func TestAuthArg_Format(t *testing.T) {
	cred := NewCredential("alice", "secret")
	parts := strings.SplitN(cred.AuthArg(), ":", 3)
	assert.Equal(t, "alice", parts[0])
	assert.Equal(t, "sha512", parts[1])
	assert.Equal(t, cred.Digest, parts[2])
}

func TestCredentialValidate(t *testing.T) {
	assert.ErrorIs(t, Credential{Username: "", Digest: HashPassword("x")}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Credential{Username: "alice", Digest: "abc"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Credential{Username: "alice", Digest: strings.Repeat("zz", 64)}.Validate(), ErrInvalidConfig)
	assert.NoError(t, NewCredential("alice", "pw").Validate())
}
