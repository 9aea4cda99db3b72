// Package oldest implements the oldest-first retention strategy.
package oldest

import (
	"slices"
	"strings"

	"github.com/lucasew/audiocache/internal/eviction"
)

// Name is the registry name of this strategy.
const Name = "oldest"

func init() {
	eviction.Register(Name, func() eviction.Strategy {
		return New()
	})
}

// Strategy removes artifacts by ascending modification time.
type Strategy struct{}

func New() *Strategy {
	return &Strategy{}
}

func (s *Strategy) Select(artifacts []eviction.Artifact, retain int) []eviction.Artifact {
	return Select(artifacts, retain)
}

// Select returns the artifacts that must go so that at most retain survive,
// oldest first. Equal modification times are ordered by name so repeated runs
// over the same directory pick the same victims. The input is left untouched.
func Select(artifacts []eviction.Artifact, retain int) []eviction.Artifact {
	if retain < 0 {
		retain = 0
	}
	excess := len(artifacts) - retain
	if excess <= 0 {
		return nil
	}

	sorted := slices.Clone(artifacts)
	slices.SortFunc(sorted, func(a, b eviction.Artifact) int {
		if c := a.ModTime.Compare(b.ModTime); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
	return sorted[:excess]
}
