package util

import "github.com/google/uuid"

// NewID returns a random RFC 4122 UUID string.
func NewID() string {
	return uuid.NewString()
}
