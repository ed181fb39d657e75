package helpers

import "github.com/google/uuid"

// GenerateUUID returns a fresh node identity.
func GenerateUUID() string {
	return uuid.New().String()
}
