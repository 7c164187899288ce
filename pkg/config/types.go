package config

import (
	"time"

	"github.com/fleetdeck/fleetdeck/pkg/runner"
	"github.com/fleetdeck/fleetdeck/pkg/telemetry"
)

// AppConfig is the application configuration, usually read from
// fleetdeck.yaml.
type AppConfig struct {
	// Project scopes providers, instances and groups.
	Project string `yaml:"project" validate:"required,excludesall=/"`

	Database DatabaseConfig `yaml:"database"`
	Exec     ExecConfig     `yaml:"exec"`
	Cluster  ClusterConfig  `yaml:"cluster"`
	Policy   PolicyConfig   `yaml:"policy"`

	Logging telemetry.LoggingConfig `yaml:"logging"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`
}

// ExecConfig bounds every call to an external backend.
type ExecConfig struct {
	Timeout   time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxOutput int64         `yaml:"max_output" validate:"gt=0"`
	// Kubectl is the kubectl binary used by the kubectl cluster driver.
	Kubectl string `yaml:"kubectl" validate:"required"`
}

// ClusterConfig selects how clusters are queried.
type ClusterConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=kubectl client-go"`
}

// PolicyConfig controls the checks run before a sync commits.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Paths are .rego or .json policy files, or directories of them.
	Paths []string `yaml:"paths" validate:"dive,required"`
	// Disabled names policies, built-in or loaded, that are skipped.
	Disabled []string `yaml:"disabled"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	tel := telemetry.DefaultConfig()
	return &AppConfig{
		Project:  "default",
		Database: DatabaseConfig{Path: "fleetdeck.db"},
		Exec: ExecConfig{
			Timeout:   runner.DefaultTimeout,
			MaxOutput: runner.DefaultMaxOutput,
			Kubectl:   "kubectl",
		},
		Cluster: ClusterConfig{Driver: "kubectl"},
		Policy:  PolicyConfig{Enabled: true},
		Logging: tel.Logging,
		Metrics: tel.Metrics,
		Tracing: tel.Tracing,
	}
}

// Telemetry returns the telemetry configuration for a binary version.
func (c *AppConfig) Telemetry(version string) *telemetry.Config {
	tel := telemetry.DefaultConfig()
	if version != "" {
		tel.ServiceVersion = version
	}
	tel.Logging = c.Logging
	tel.Metrics = c.Metrics
	tel.Tracing = c.Tracing
	return tel
}
