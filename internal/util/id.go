package util

import "github.com/google/uuid"

// NewID returns a new entity ID.
func NewID() string {
	return uuid.NewString()
}
