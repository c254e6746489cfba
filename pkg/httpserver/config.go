package httpserver

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

// Defaults for the HTTP binding.
const (
	DefaultInterface = "localhost"
	DefaultPort      = 2000
)

var validate = validator.New()

// Config selects the listen address.
type Config struct {
	Interface string `validate:"required"`
	Port      int    `validate:"min=1,max=65535"`
}

// DefaultConfig returns the default listen address.
func DefaultConfig() Config {
	return Config{Interface: DefaultInterface, Port: DefaultPort}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	return nil
}

// Addr is the host:port pair to listen on.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Interface, strconv.Itoa(c.Port))
}
