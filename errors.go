package spikesort

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingInput is returned when a stage that requires data receives
	// none: clustering or reduction with zero vectors, or an energy matrix
	// requested over zero clusters.
	ErrMissingInput = errors.New("spikesort: no input vectors")

	// ErrSingletonCluster is returned when a self-energy is requested for a
	// cluster of size 1, whose diagonal entry is undefined.
	ErrSingletonCluster = errors.New("spikesort: singleton cluster has undefined self-energy")
)

// ConfigError reports an invalid or unknown configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("spikesort: invalid %s: %s", e.Field, e.Reason)
}

// DegeneracyError reports a numerically degenerate input, such as a
// zero-variance channel that makes a noise-scaled threshold meaningless.
// Trial and Channel are 0-indexed; either may be -1 when not applicable.
type DegeneracyError struct {
	Trial   int
	Channel int
	Reason  string
}

func (e *DegeneracyError) Error() string {
	return fmt.Sprintf("spikesort: trial %d channel %d: %s", e.Trial, e.Channel, e.Reason)
}
