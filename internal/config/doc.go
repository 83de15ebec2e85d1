// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// The same file format serves jobwatch and jobfeed; each binary reads the
// sections it needs.
package config
