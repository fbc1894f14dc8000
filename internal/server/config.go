package server

import (
	"fmt"
	"net"
)

// Config holds control-API server configuration.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// AdminEmail and AdminPassword authenticate basic-auth requests.
	AdminEmail    string
	AdminPassword string

	// AdminKey, when set, authenticates bearer-token requests.
	AdminKey string

	ReadTimeout  int // seconds
	WriteTimeout int // seconds
	IdleTimeout  int // seconds
}

// ApplyDefaults sets sensible default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8565"
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 15
	}
	// Log following holds the response open, so the write timeout stays
	// disabled unless explicitly configured.
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("server.addr must be host:port (got: %q): %w", c.Addr, err)
	}
	if c.AdminEmail == "" || c.AdminPassword == "" {
		return fmt.Errorf("server requires admin credentials")
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("server timeouts must be non-negative")
	}
	return nil
}
