// Package idgen generates the opaque identifiers tracegate hands out:
// record and user ids, and session tokens. All are nanoid strings.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes identify what an id refers to when it shows up in logs.
const (
	RecordPrefix = "tr-"
	UserPrefix   = "u-"
	TokenPrefix  = "tgs_"
)

// Alphabet is the character set of the random portion.
const Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	// IDLength is the random length of record and user ids.
	IDLength = 12
	// TokenLength is the random length of session tokens, about 190 bits.
	TokenLength = 32
)

// RecordID returns a new test record id.
func RecordID() (string, error) {
	return generate(RecordPrefix, IDLength)
}

// UserID returns a new user id.
func UserID() (string, error) {
	return generate(UserPrefix, IDLength)
}

// Token returns a new session token.
func Token() (string, error) {
	return generate(TokenPrefix, TokenLength)
}

func generate(prefix string, n int) (string, error) {
	id, err := nanoid.Generate(Alphabet, n)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
