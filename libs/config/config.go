// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"strconv"

	"github.com/kelseyhightower/envconfig"
)

// Process fills a tagged struct from the environment. Field tags follow
// envconfig: `envconfig:"NAME" default:"x" required:"true"`.
func Process(prefix string, dst any) error {
	if err := envconfig.Process(prefix, dst); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

// ValidatePort reports whether value is a usable TCP port for the named
// setting.
func ValidatePort(name, value string) error {
	p, err := strconv.Atoi(value)
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("%s must be a valid TCP port (got %q)", name, value)
	}
	return nil
}
