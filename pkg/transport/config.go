// SPDX-FileCopyrightText: 2026 The quictun Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"fmt"
	"net"
	"strconv"

	"github.com/hashicorp/go-multierror"
)

// Config describes one Transport to be built.
type Config struct {
	Backend Backend
	Role    Role

	// Host and Port of the out endpoint. An out Transport listens on Host:Port, where an
	// empty Host binds all interfaces.
	Host string
	Port int

	// LocalPort optionally fixes the in Transport's source port. Zero picks any port.
	LocalPort int

	// QlogDir is the directory for diagnostic logs. An empty value disables them.
	QlogDir string
}

// CheckValid returns a ConfigurationError listing every problem of this Config.
func (c Config) CheckValid() error {
	var errs error

	if err := c.Backend.CheckValid(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Role != RoleIn && c.Role != RoleOut {
		errs = multierror.Append(errs, fmt.Errorf("%w: %d", ErrUnknownRole, uint(c.Role)))
	}
	if c.Role == RoleIn && c.Host == "" {
		errs = multierror.Append(errs, fmt.Errorf("missing destination host"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("destination port %d is out of range", c.Port))
	}
	if c.LocalPort < 0 || c.LocalPort > 65535 {
		errs = multierror.Append(errs, fmt.Errorf("local port %d is out of range", c.LocalPort))
	}

	if errs != nil {
		return &ConfigurationError{Cause: errs}
	}
	return nil
}

// Address returns Host:Port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LocalAddress returns the address to bind for an in Transport, or an empty string.
func (c Config) LocalAddress() string {
	if c.LocalPort == 0 {
		return ""
	}
	return net.JoinHostPort("", strconv.Itoa(c.LocalPort))
}

func (c Config) String() string {
	return fmt.Sprintf("%v/%v@%s", c.Backend, c.Role, c.Address())
}
