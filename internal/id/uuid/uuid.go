// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/keyword-watcher/internal/watch"
)

// Generator creates UUID v7 strings. They sort by creation time, so a newer
// schedule handle always compares greater than the one it replaced.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewHandle returns a fresh schedule handle.
func (g Generator) NewHandle() (watch.ScheduleHandle, error) {
	id, err := g.NewID()
	if err != nil {
		return "", err
	}
	return watch.ScheduleHandle(id), nil
}
