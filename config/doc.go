// Package config loads the service configuration from defaults, a YAML file
// and RESILIENCE_* environment variables, validates it and converts each
// section into the options of the package it configures.
package config
