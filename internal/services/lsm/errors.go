package lsm

import (
	"errors"
	"fmt"
)

var (
	ErrNegativeDegree        = errors.New("lsm: regression degree must be non-negative")
	ErrNonPositivePaths      = errors.New("lsm: number of paths must be positive")
	ErrEmptySchedule         = errors.New("lsm: exercise schedule is empty")
	ErrNonIncreasingSchedule = errors.New("lsm: exercise dates must be strictly increasing")
	ErrNonPositiveTime       = errors.New("lsm: exercise dates must be positive")
	ErrNonPositiveStrike     = errors.New("lsm: strike must be positive")
	ErrUnknownOptionType     = errors.New("lsm: unknown option type")
	ErrBetaOutOfRange        = errors.New("lsm: beta must lie in [0, 1]")
	ErrRhoOutOfRange         = errors.New("lsm: rho must lie in [-1, 1]")
	ErrNonPositiveInitial    = errors.New("lsm: initial forward and volatility must be positive")
	ErrNegativeVolOfVol      = errors.New("lsm: vol-of-vol must be non-negative")
	ErrNonPositiveSteps      = errors.New("lsm: steps per period must be positive")
)

// ConfigurationError reports an input rejected before any simulation ran.
type ConfigurationError struct {
	Field string
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErr(field string, err error) error {
	return &ConfigurationError{Field: field, Err: err}
}

// IsConfigurationError reports whether err came from input validation.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
