package challenger

import (
	"time"

	"github.com/spf13/viper"
)

// HardIterationCeiling bounds every loop regardless of configuration.
// Termination is guaranteed even with a misconfigured max.
const HardIterationCeiling = 10

// Config holds the convergence tunables. Defaults have no derivation
// beyond operator experience; they are configuration, not behavior.
type Config struct {
	SatisfactionThreshold     float64       // converge when the challenger scores at least this
	ForcedAcceptanceThreshold float64       // accept at max iterations when at least this
	MaxIterations             int           // configured iteration budget
	StagnationWindow          int           // consecutive low-improvement iterations before giving up
	MinImprovement            float64       // minimum satisfaction gain that counts as progress
	InvocationTimeout         time.Duration // per backend call
}

// DefaultConfig returns the loop config, reading from viper when available.
func DefaultConfig() Config {
	cfg := Config{
		SatisfactionThreshold:     viper.GetFloat64("review.satisfaction_threshold"),
		ForcedAcceptanceThreshold: viper.GetFloat64("review.forced_acceptance_threshold"),
		MaxIterations:             viper.GetInt("review.max_iterations"),
		StagnationWindow:          viper.GetInt("review.stagnation_window"),
		MinImprovement:            viper.GetFloat64("review.min_improvement"),
		InvocationTimeout:         viper.GetDuration("review.invocation_timeout"),
	}
	if cfg.SatisfactionThreshold <= 0 {
		cfg.SatisfactionThreshold = 85
	}
	if cfg.ForcedAcceptanceThreshold <= 0 {
		cfg.ForcedAcceptanceThreshold = 70
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 3
	}
	if cfg.StagnationWindow <= 0 {
		cfg.StagnationWindow = 2
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = 2.0
	}
	return cfg
}

// effectiveMax clamps the configured budget to the hard ceiling.
func (c Config) effectiveMax() int {
	if c.MaxIterations <= 0 || c.MaxIterations > HardIterationCeiling {
		return HardIterationCeiling
	}
	return c.MaxIterations
}
