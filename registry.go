package mcconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Registry holds one live connection per (protocol, tls, family, port).
//
// The registry has a single writer: Initialize and Invalidate must not run
// concurrently with anything else. Lookups may run concurrently with each
// other. Connections handed out keep their own single owner rule.
type Registry struct {
	config      Config
	logger      *slog.Logger
	connections []Connection
}

func NewRegistry(cfg Config) *Registry {
	return &Registry{
		config: cfg,
		logger: cfg.logger(),
	}
}

// Initialize connects to every descriptor. Existing connections are closed
// first. A duplicate descriptor or a failed connection closes everything
// created so far and returns the error.
func (r *Registry) Initialize(ctx context.Context, ports []PortDescriptor) error {
	r.Invalidate()

	seen := make(map[string]bool, len(ports))
	for _, desc := range ports {
		if seen[desc.key()] {
			r.Invalidate()
			return invalidArgument("duplicate port descriptor "+desc.String(), nil)
		}
		seen[desc.key()] = true

		conn, err := Dial(ctx, desc, r.config)
		if err != nil {
			r.Invalidate()
			return fmt.Errorf("mcconn: registry: %s: %w", desc, err)
		}
		r.logger.Debug("registered connection", "conn", conn.String())
		r.connections = append(r.connections, conn)
	}
	return nil
}

func matches(c Connection, protocol Protocol, tls bool, family Family, port int) bool {
	if c.Protocol() != protocol || c.IsTLS() != tls {
		return false
	}
	if family != FamilyAny && c.Family() != family {
		return false
	}
	return port == 0 || c.Port() == port
}

// Connection returns the first connection matching the attributes.
// FamilyAny matches any family and port 0 matches any port. When nothing
// matches the error wraps ErrNoConnection.
func (r *Registry) Connection(protocol Protocol, tls bool, family Family, port int) (Connection, error) {
	for _, c := range r.connections {
		if matches(c, protocol, tls, family, port) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: protocol=%s tls=%t family=%s port=%d", ErrNoConnection, protocol, tls, family, port)
}

// Contains reports whether Connection would succeed for any port.
func (r *Registry) Contains(protocol Protocol, tls bool, family Family) bool {
	_, err := r.Connection(protocol, tls, family, 0)
	return err == nil
}

// Connections returns the registered connections in initialization order.
func (r *Registry) Connections() []Connection {
	return append([]Connection(nil), r.connections...)
}

func (r *Registry) Len() int {
	return len(r.connections)
}

// Invalidate closes and drops every connection. It is safe to call more
// than once.
func (r *Registry) Invalidate() {
	var errs []error
	for _, c := range r.connections {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(r.connections) > 0 {
		r.logger.Debug("registry invalidated", "connections", len(r.connections), "error", errors.Join(errs...))
	}
	r.connections = nil
}
