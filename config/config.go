package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPort is where a relay listens unless told otherwise
const DefaultPort = 8080

// Config holds everything needed to run a relay
type Config struct {
	Host string
	Port int

	// TLS is enabled when both files are set.
	TLSCertFile string
	TLSKeyFile  string

	LogLevel string
	LogFile  string

	// MetricsPort serves /metrics when positive.
	MetricsPort int

	PingInterval   time.Duration
	MaxMessageSize int64

	Ngrok Ngrok
}

// Ngrok exposes the relay through an ngrok tunnel instead of a local listener
type Ngrok struct {
	Enabled   bool
	AuthToken string
	Domain    string
}

// Default returns the configuration used when nothing is set
func Default() Config {
	return Config{
		Host:           "",
		Port:           DefaultPort,
		LogLevel:       "info",
		LogFile:        "console",
		PingInterval:   15 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d must be between 0 and 65535", ErrInvalidConfig, c.Port)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("%w: metrics port %d must be between 0 and 65535", ErrInvalidConfig, c.MetricsPort)
	}
	if c.MetricsPort != 0 && c.MetricsPort == c.Port {
		return fmt.Errorf("%w: metrics port must differ from the relay port", ErrInvalidConfig)
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("%w: tls cert and key must be set together", ErrInvalidConfig)
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: ping interval must be positive", ErrInvalidConfig)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: max message size must be positive", ErrInvalidConfig)
	}
	if c.Ngrok.Enabled {
		if c.Ngrok.AuthToken == "" {
			return fmt.Errorf("%w: ngrok requires an auth token", ErrInvalidConfig)
		}
		if c.HasTLS() {
			return fmt.Errorf("%w: ngrok terminates TLS itself, drop the tls cert and key", ErrInvalidConfig)
		}
	}
	return nil
}

// Addr returns the host:port to listen on
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) HasTLS() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// TLSConfig loads the PEM certificate and key pair
func (c Config) TLSConfig() (*tls.Config, error) {
	if !c.HasTLS() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(c.TLSCertFile, c.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("load tls key pair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
