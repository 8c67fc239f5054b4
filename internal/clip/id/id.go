// Package id provides identifier generation and validation for clips.
package id

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

// Generate creates a new clip job ID.
// Job IDs are UUIDs so they are safe to use as directory and object key segments.
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s is a well-formed job ID.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil && len(s) == 36
}

// ShareToken creates a short random token for share links.
// Format: 10 lowercase hex characters.
func ShareToken() string {
	random := make([]byte, 5)
	if _, err := rand.Read(random); err != nil {
		// Fall back to the random part of a UUID if crypto/rand fails
		return uuid.NewString()[:10]
	}
	return hex.EncodeToString(random)
}
