package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/pior/mcconn"
)

const (
	defaultPort = 11210
	userAgent   = "mcctl"
	version     = "0.1.0"
)

func (c *cli) config() mcconn.Config {
	return mcconn.Config{
		Logger: c.logger,
		Dialer: &net.Dialer{Timeout: c.v.GetDuration("timeout")},
		TLSConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.v.GetBool("tls-insecure"),
		},
	}
}

// connect opens the connection selected by the flags and logs in. The
// returned release function closes it.
func (c *cli) connect(ctx context.Context) (mcconn.Connection, func(), error) {
	protocol, err := mcconn.ParseProtocol(c.v.GetString("protocol"))
	if err != nil {
		return nil, nil, err
	}
	family, err := mcconn.ParseFamily(c.v.GetString("family"))
	if err != nil {
		return nil, nil, err
	}
	useTLS := c.v.GetBool("tls")
	port := c.v.GetInt("port")

	var conn mcconn.Connection
	var release func()

	if path := c.v.GetString("ports-file"); path != "" {
		ports, err := mcconn.LoadPortDescriptors(path)
		if err != nil {
			return nil, nil, fmt.Errorf("load ports file: %w", err)
		}
		registry := mcconn.NewRegistry(c.config())
		if err := registry.Initialize(ctx, ports); err != nil {
			return nil, nil, err
		}
		conn, err = registry.Connection(protocol, useTLS, family, port)
		if err != nil {
			registry.Invalidate()
			return nil, nil, err
		}
		release = registry.Invalidate
	} else {
		if port == 0 {
			port = defaultPort
		}
		conn, err = mcconn.Dial(ctx, mcconn.PortDescriptor{
			Host:     c.v.GetString("host"),
			Port:     port,
			Family:   family,
			TLS:      useTLS,
			Protocol: protocol,
		}, c.config())
		if err != nil {
			return nil, nil, err
		}
		release = func() { _ = conn.Close() }
	}

	if err := c.login(ctx, conn); err != nil {
		release()
		return nil, nil, err
	}
	return conn, release, nil
}

func (c *cli) login(ctx context.Context, conn mcconn.Connection) error {
	if err := conn.Hello(ctx, userAgent, version, ""); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	if user := c.v.GetString("user"); user != "" {
		if err := conn.Authenticate(ctx, user, c.v.GetString("password"), c.v.GetString("mech")); err != nil {
			return fmt.Errorf("authenticate %s: %w", user, err)
		}
	}
	if bucket := c.v.GetString("bucket"); bucket != "" {
		if err := conn.SelectBucket(ctx, bucket); err != nil {
			return fmt.Errorf("select bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// run connects, calls fn and closes the connection, all within the command
// timeout.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, conn mcconn.Connection) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), c.v.GetDuration("timeout"))
	defer cancel()

	conn, release, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	c.logger.Debug("connected", "conn", conn.String())
	return fn(ctx, conn)
}
