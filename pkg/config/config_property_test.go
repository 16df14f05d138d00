// Package config property tests: invalid configuration values must fall
// back to working defaults so the broker always starts.
package config

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestProperty_InvalidValuesFallBackToDefaults verifies that any
// non-positive broker setting is replaced by its default.
func TestProperty_InvalidValuesFallBackToDefaults(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("non-positive retention falls back", prop.ForAll(
		func(value int) bool {
			cfg := Config{}
			cfg.Broker.FinishedTasksRetention = value
			cfg.ApplyDefaults()
			return cfg.Broker.FinishedTasksRetention > 0
		},
		gen.IntRange(-1000, 0),
	))

	properties.Property("non-positive intervals fall back", prop.ForAll(
		func(checkpoint, purge int) bool {
			cfg := Config{}
			cfg.Broker.CheckpointInterval = checkpoint
			cfg.Broker.PurgeInterval = purge
			cfg.ApplyDefaults()
			return cfg.Broker.CheckpointInterval > 0 && cfg.Broker.PurgeInterval > 0
		},
		gen.IntRange(-1000, 0),
		gen.IntRange(-1000, 0),
	))

	properties.Property("valid values are preserved", prop.ForAll(
		func(retention, maxExpired int) bool {
			cfg := Config{}
			cfg.Broker.FinishedTasksRetention = retention
			cfg.Broker.MaxExpiredTasksPerCycle = maxExpired
			cfg.ApplyDefaults()
			return cfg.Broker.FinishedTasksRetention == retention &&
				cfg.Broker.MaxExpiredTasksPerCycle == maxExpired
		},
		gen.IntRange(1, 1<<30),
		gen.IntRange(1, 1<<20),
	))

	properties.TestingRun(t)
}
