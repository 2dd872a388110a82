// Package uuid issues run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator issues time-ordered UUIDv7 run IDs, so snapshot keys and reports
// sort by creation time.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a new UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}
