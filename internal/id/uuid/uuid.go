// Package uuid implements engine.IDGenerator using google/uuid.
package uuid

import (
	"fmt"

	guuid "github.com/google/uuid"
)

// Generator produces random UUIDv4 task identifiers.
type Generator struct{}

// New returns a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a new UUID string.
func (g *Generator) NewID() (string, error) {
	id, err := guuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate uuid: %w", err)
	}
	return id.String(), nil
}
