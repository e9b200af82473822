// Package config loads the declarative configuration for a puppet-compiler
// run: source locations, the scheduler's pool size, and reporting knobs.
// Loading itself (the YAML file, env var overrides) is an ambient concern;
// the Config struct and its validation are what the core depends on.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the fully resolved configuration for one run.
type Config struct {
	// HTTPURL is the base URL used when forming report links.
	HTTPURL string `yaml:"http_url"`

	// Base is the working root for the run's workspaces and output.
	Base string `yaml:"base"`

	// PuppetSrc, PuppetPrivate and PuppetNetbox are the source locations
	// the Workspace port clones/overlays.
	PuppetSrc     string `yaml:"puppet_src"`
	PuppetPrivate string `yaml:"puppet_private"`
	PuppetNetbox  string `yaml:"puppet_netbox"`

	// PuppetVar is the directory holding the fact store.
	PuppetVar string `yaml:"puppet_var"`

	// PoolSize bounds the scheduler's concurrent worker count.
	PoolSize int `yaml:"pool_size"`

	// FailFast enables cancel-on-first-failure scheduling.
	FailFast bool `yaml:"fail_fast"`

	// SretestHost is the canonical host added by the "basic" selector.
	SretestHost string `yaml:"sretest_host"`

	// ForceCleanupSkip skips workspace teardown so a developer can inspect
	// the working tree after a local run (the "--force" behaviour named
	// in the data model's Lifecycle paragraph).
	ForceCleanupSkip bool `yaml:"force_cleanup_skip"`

	// Scopes restricts diffing to the given resource scopes (Puppet
	// classes) when non-empty. Optional narrowing filter, applied through
	// catalog.Catalog.Filter.
	Scopes []string `yaml:"scopes"`

	// CloudSuffix is the domain suffix that marks a hostname as
	// belonging to the "cloud" realm; everything else is "production".
	CloudSuffix string `yaml:"cloud_suffix"`
}

// recognisedKeys lists every key Config understands; LoadConfig rejects
// anything outside this set as a fatal configuration error.
var recognisedKeys = map[string]bool{
	"http_url": true, "base": true, "puppet_src": true, "puppet_private": true,
	"puppet_netbox": true, "puppet_var": true, "pool_size": true, "fail_fast": true,
	"sretest_host": true, "force_cleanup_skip": true, "scopes": true, "cloud_suffix": true,
}

// DefaultConfig returns a Config populated with the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		HTTPURL:     "https://puppet-compiler.wmcloud.org/html",
		Base:        "/mnt/jenkins-workspace",
		PuppetVar:   "/var/lib/puppet",
		PoolSize:    2,
		FailFast:    false,
		SretestHost: "sretest1001.wikimedia.org",
		CloudSuffix: ".wmcloud.org",
	}
}

// ConfigError reports an invalid or unloadable configuration file. It is
// always fatal at run start (spec §7).
type ConfigError struct {
	Path   string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %s", e.Reason)
	}
	return fmt.Sprintf("config error in %s: %s", e.Path, e.Reason)
}

// LoadConfig loads configuration from a YAML file, layering it on top of
// DefaultConfig. A missing file is not an error; the defaults stand. An
// unknown key in the file is a fatal ConfigError.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, &ConfigError{Path: path, Reason: err.Error()}
	}

	if err := validateKeys(data); err != nil {
		return nil, &ConfigError{Path: path, Reason: err.Error()}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigError{Path: path, Reason: fmt.Sprintf("failed to parse: %v", err)}
	}

	return cfg, nil
}

// validateKeys rejects any top-level key the Config type does not declare.
func validateKeys(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse: %w", err)
	}
	for key := range raw {
		if !recognisedKeys[key] {
			return fmt.Errorf("unknown config key %q", key)
		}
	}
	return nil
}

// ApplyEnvOverrides applies PUPPET_COMPILER_* environment variable
// overrides on top of a loaded Config. Each recognised key has a declared
// type; a value that fails to coerce to that type is a fatal ConfigError.
// Reading the environment itself is the CLI front-end's job (out of
// scope); this function is the typed-coercion boundary the core owns.
func ApplyEnvOverrides(cfg *Config, env map[string]string) error {
	if v, ok := env["PUPPET_COMPILER_POOL_SIZE"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return &ConfigError{Reason: fmt.Sprintf("pool_size: %v", err)}
		}
		cfg.PoolSize = n
	}
	if v, ok := env["PUPPET_COMPILER_FAIL_FAST"]; ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return &ConfigError{Reason: fmt.Sprintf("fail_fast: %v", err)}
		}
		cfg.FailFast = b
	}
	if v, ok := env["PUPPET_COMPILER_BASE"]; ok {
		cfg.Base = v
	}
	if v, ok := env["PUPPET_COMPILER_HTTP_URL"]; ok {
		cfg.HTTPURL = v
	}
	return nil
}
