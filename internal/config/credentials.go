package config

import (
	"crypto/sha512"
	"encoding/hex"
	"fmt"
)

// digestAlgorithm is the algorithm name the file server expects in its
// auth flag (user:sha512:<hex>).
const digestAlgorithm = "sha512"

// Credential is one (username, password digest) pair for secure serving.
// The digest is the lowercase hex SHA-512 of the password; the plaintext
// is hashed at collection time and never retained.
type Credential struct {
	Username string `yaml:"username"`
	Digest   string `yaml:"digest"`
}

// NewCredential hashes the given plaintext password and returns the
// credential record. The plaintext is not stored anywhere.
func NewCredential(username, password string) Credential {
	return Credential{
		Username: username,
		Digest:   HashPassword(password),
	}
}

// HashPassword returns the lowercase hex SHA-512 digest of the plaintext.
func HashPassword(plaintext string) string {
	sum := sha512.Sum512([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// AuthArg renders the credential in the form the served process expects
// as an authentication parameter: username:sha512:<digest>.
func (c Credential) AuthArg() string {
	return fmt.Sprintf("%s:%s:%s", c.Username, digestAlgorithm, c.Digest)
}

// Validate checks that the credential is well-formed: non-empty username
// and a full-length hex digest.
func (c Credential) Validate() error {
	if c.Username == "" {
		return fmt.Errorf("%w: credential username must not be empty", ErrInvalidConfig)
	}
	if len(c.Digest) != sha512.Size*2 {
		return fmt.Errorf("%w: credential digest for %q has length %d, want %d",
			ErrInvalidConfig, c.Username, len(c.Digest), sha512.Size*2)
	}
	if _, err := hex.DecodeString(c.Digest); err != nil {
		return fmt.Errorf("%w: credential digest for %q is not hex: %v", ErrInvalidConfig, c.Username, err)
	}
	return nil
}
