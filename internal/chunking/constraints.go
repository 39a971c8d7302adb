package chunking

import "fmt"

const (
	DefaultMaxLength        = 2000
	DefaultTargetLength     = 1500
	DefaultMinLength        = 10
	DefaultOverlapSentences = 1
)

// Constraints bound chunk sizes. Lengths are measured in characters.
type Constraints struct {
	MinLength    int
	MaxLength    int
	TargetLength int
	// OverlapSentences is the number of trailing sentences of a chunk repeated at the
	// start of the next one. Only HYBRID uses it.
	OverlapSentences int
}

// DefaultConstraints returns the constraints used when none are configured.
func DefaultConstraints() Constraints {
	return Constraints{
		MinLength:        DefaultMinLength,
		MaxLength:        DefaultMaxLength,
		TargetLength:     DefaultTargetLength,
		OverlapSentences: DefaultOverlapSentences,
	}
}

// Normalize validates c and clamps target and min into [0, max].
func (c Constraints) Normalize() (Constraints, error) {
	if c.MaxLength <= 0 {
		return c, fmt.Errorf("%w: max length must be positive, got %d", ErrInvalidConstraints, c.MaxLength)
	}
	if c.TargetLength <= 0 || c.TargetLength > c.MaxLength {
		c.TargetLength = c.MaxLength
	}
	if c.MinLength < 0 {
		c.MinLength = 0
	}
	if c.MinLength > c.TargetLength {
		c.MinLength = c.TargetLength
	}
	if c.OverlapSentences < 0 {
		c.OverlapSentences = 0
	}
	return c, nil
}
