// Package identity produces globally-unique identifiers for new entities
// before they enter the merge pipeline.
package identity

import (
	"strconv"

	"github.com/google/uuid"
)

// Generator mints unique string identifiers.
type Generator interface {
	NewID() string
}

// UUID is the production generator.
type UUID struct{}

func (UUID) NewID() string {
	return uuid.NewString()
}

// Sequence is a deterministic generator for tests.
type Sequence struct {
	prefix string
	n      int
}

func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

func (s *Sequence) NewID() string {
	s.n++
	return s.prefix + "-" + strconv.Itoa(s.n)
}
