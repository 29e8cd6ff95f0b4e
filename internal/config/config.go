// Package config holds the optimizer configuration flags §6 names
// (optAllowSkipClassLoading, modulesAllowSkipInitialization) plus the
// analyzer size limits, built the way wazero's RuntimeConfig is built
// (config.go): an immutable-by-convention struct constructed through
// With*-style functional options.
package config

import "github.com/bytefold/bco/internal/analyzer"

// Config controls optimizer behavior that depends on whether a given
// removal is allowed to skip an observable side effect (class loading or
// module initialization).
type Config struct {
	allowSkipClassLoading          bool
	allowSkipModuleInitialization  bool
	limits                         analyzer.Limits
}

// defaultConfig is conservative: neither class loading nor module
// initialization may be skipped, matching spec.md's characterization of
// the flags as opt-in relaxations of an otherwise-safe default.
var defaultConfig = Config{
	allowSkipClassLoading:         false,
	allowSkipModuleInitialization: false,
	limits:                        analyzer.DefaultLimits,
}

// New returns the default Config.
func New() Config { return defaultConfig }

// WithAllowSkipClassLoading sets optAllowSkipClassLoading (§6): when true,
// pass (C) may remove a class/MethodType/MethodHandle LDC whose value is
// unused (§4.4 LDC row).
func (c Config) WithAllowSkipClassLoading(v bool) Config {
	c.allowSkipClassLoading = v
	return c
}

// WithAllowSkipModuleInitialization sets modulesAllowSkipInitialization
// (§6): when true, pass (C) may remove a GETSTATIC module-load whose value
// is unused (§4.4 GETFIELD/GETSTATIC row).
func (c Config) WithAllowSkipModuleInitialization(v bool) Config {
	c.allowSkipModuleInitialization = v
	return c
}

// WithLimits overrides the analyzer size gates.
func (c Config) WithLimits(l analyzer.Limits) Config {
	c.limits = l
	return c
}

// AllowSkipClassLoading reports optAllowSkipClassLoading.
func (c Config) AllowSkipClassLoading() bool { return c.allowSkipClassLoading }

// AllowSkipModuleInitialization reports modulesAllowSkipInitialization.
func (c Config) AllowSkipModuleInitialization() bool { return c.allowSkipModuleInitialization }

// Limits returns the analyzer size gates.
func (c Config) Limits() analyzer.Limits { return c.limits }
