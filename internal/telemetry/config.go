package telemetry

import (
	"fmt"
	"time"

	"codeberg.org/mutker/domwatch/internal/errors"
)

const (
	defaultProtocol = "https"
	defaultHost     = "localhost"
	defaultPort     = 443
	defaultTimeout  = 30
)

// Config describes how to reach the device's eAPI endpoint.
type Config struct {
	Protocol  string `mapstructure:"protocol" toml:"protocol"`
	Host      string `mapstructure:"host" toml:"host"`
	Port      int    `mapstructure:"port" toml:"port"`
	Username  string `mapstructure:"username" toml:"username"`
	Password  string `mapstructure:"password" toml:"password"`
	VerifyTLS bool   `mapstructure:"verify_tls" toml:"verify_tls"`
	// Timeout bounds each round trip, in seconds.
	Timeout int `mapstructure:"timeout" toml:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		Protocol: defaultProtocol,
		Host:     defaultHost,
		Port:     defaultPort,
		Username: "eapiuser",
		Password: "admin",
		Timeout:  defaultTimeout,
	}
}

func (c Config) Validate() error {
	errFactory := errors.New()

	if c.Protocol != "http" && c.Protocol != "https" {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("protocol must be http or https, got %q", c.Protocol))
	}
	if c.Host == "" {
		return errFactory.WithData(ErrInvalidConfig, "host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("port out of range: %d", c.Port))
	}
	if c.Timeout <= 0 {
		return errFactory.WithData(ErrInvalidConfig, fmt.Sprintf("timeout must be positive: %d", c.Timeout))
	}
	return nil
}

// Endpoint is the command-api URL.
func (c Config) Endpoint() string {
	return fmt.Sprintf("%s://%s:%d/command-api", c.Protocol, c.Host, c.Port)
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
