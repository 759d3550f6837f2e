// Package config loads, validates, and normalizes tomoprep configuration.
//
// Configuration is a single TOML file resolved from an explicit --config
// path, ~/.config/tomoprep/config.toml, or ./tomoprep.toml, in that order.
// Load applies defaults, expands ~ in every path field, and fails fast when
// a required setting for an enabled stage is missing, so a misconfigured run
// aborts before anything is submitted to the cluster.
package config
