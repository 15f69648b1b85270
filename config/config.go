package config

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/kbukum/tradeguard/logger"
	"github.com/kbukum/tradeguard/observability"
	"github.com/kbukum/tradeguard/orchestrator"
	"github.com/kbukum/tradeguard/signing"
	"github.com/kbukum/tradeguard/statusapi"
	"github.com/kbukum/tradeguard/validation"
	"github.com/kbukum/tradeguard/version"
)

var environments = []string{"development", "staging", "production"}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Environment string `yaml:"environment" mapstructure:"environment"`
	Version     string `yaml:"version" mapstructure:"version"`
	Debug       bool   `yaml:"debug" mapstructure:"debug"`
}

// ApplyDefaults applies default values to the service section.
func (c *ServiceConfig) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "tradeguard"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
	if c.Version == "" {
		c.Version = version.Get().Version
	}
	if c.Environment == "development" {
		c.Debug = true
	}
}

// Validate validates the service section.
func (c *ServiceConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("service.name is required")
	}
	if !slices.Contains(environments, c.Environment) {
		return fmt.Errorf("service.environment must be one of %v (got: %s)", environments, c.Environment)
	}
	return nil
}

// Config is the root configuration of a tradeguard process.
type Config struct {
	Service       ServiceConfig        `yaml:"service" mapstructure:"service"`
	Logging       logger.Config        `yaml:"logging" mapstructure:"logging"`
	Orchestrator  orchestrator.Config  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Signing       signing.Config       `yaml:"signing" mapstructure:"signing"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	StatusAPI     statusapi.Config     `yaml:"status_api" mapstructure:"status_api"`
}

// ApplyDefaults fills every section. Service identity flows into the
// orchestrator name and the telemetry resource.
func (c *Config) ApplyDefaults() {
	c.Service.ApplyDefaults()

	if c.Service.Debug && c.Logging.Level == "" {
		c.Logging.Level = "debug"
	}
	c.Logging.ApplyDefaults()

	if c.Orchestrator.Name == "" {
		c.Orchestrator.Name = c.Service.Name
	}
	c.Orchestrator.ApplyDefaults()
	c.Signing.ApplyDefaults()

	if c.Observability.ServiceName == "" {
		c.Observability.ServiceName = c.Service.Name
	}
	if c.Observability.ServiceVersion == "" {
		c.Observability.ServiceVersion = c.Service.Version
	}
	if c.Observability.Environment == "" {
		c.Observability.Environment = c.Service.Environment
	}
	c.Observability.ApplyDefaults()
	c.StatusAPI.ApplyDefaults()
}

// Validate validates every section and reports all failures together.
func (c *Config) Validate() error {
	var err error
	err = multierr.Append(err, c.Service.Validate())
	err = multierr.Append(err, c.Logging.Validate())
	err = multierr.Append(err, section("orchestrator", c.Orchestrator.Validate()))
	err = multierr.Append(err, c.Signing.Validate())
	err = multierr.Append(err, section("observability", validation.Validate(&c.Observability)))
	err = multierr.Append(err, section("status_api", c.StatusAPI.Validate()))
	return err
}

func section(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", name, err)
}
