// Package random provides the default engine.Rand source.
package random

import "math/rand/v2"

// Source draws from the shared math/rand/v2 generator, which is safe for
// concurrent use.
type Source struct{}

// New returns a Source.
func New() *Source {
	return &Source{}
}

// Float64 returns a uniform draw from [0,1).
func (s *Source) Float64() float64 {
	return rand.Float64()
}

// Intn returns a uniform draw from [0,n).
func (s *Source) Intn(n int) int {
	return rand.IntN(n)
}
