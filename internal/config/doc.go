// Package config resolves tow's runtime configuration.
//
// Values are layered by viper, highest precedence first:
//
//  1. command line flags bound with BindFlags
//  2. TOW_* environment variables (TOW_BINARIES_DIR, TOW_LOG_LEVEL, ...)
//  3. a YAML config file, by default $XDG_CONFIG_HOME/tow/config.yaml
//  4. built-in defaults
//
// The result is a plain Config value. This package is the only place that
// reads the environment or the home directory; everything downstream takes
// the directories it needs as arguments.
package config
