// Package config loads pelicide's application configuration.
//
// Values are layered: built-in defaults, then the TOML file returned by
// DefaultPath (or one named on the command line), then PELICIDE_*
// environment variables. Command-line flags are applied last by the CLI.
//
// Example config.toml:
//
//	log_level = "debug"
//
//	[runner]
//	python = "/usr/bin/python3"
//	start_timeout = "90s"
//
//	[watch]
//	debounce = "500ms"
//	ignore = [".*", "output", "cache"]
package config
