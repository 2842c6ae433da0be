package main

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pior/mcconn"
)

func newHelloCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "hello",
		Short: "Connect and print the connection and the SASL mechanisms of the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, conn.String())
				fmt.Fprintf(out, "mechanisms: %s\n", conn.SaslMechanisms())
				return nil
			})
		},
	}
}

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats [group]",
		Short: "Print a stats group",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var group string
			if len(args) == 1 {
				group = args[0]
			}
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				stats, err := conn.Stats(ctx, group)
				if err != nil {
					return err
				}
				return printStats(cmd, stats)
			})
		},
	}
}

func printStats(cmd *cobra.Command, stats map[string]any) error {
	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := cmd.OutOrStdout()
	for _, k := range keys {
		switch v := stats[k].(type) {
		case string:
			fmt.Fprintf(out, "%s\t%s\n", k, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("stat %s: %w", k, err)
			}
			fmt.Fprintf(out, "%s\t%s\n", k, data)
		}
	}
	return nil
}

func newBucketsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buckets",
		Short: "Manage buckets",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List the buckets visible to the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				names, err := conn.ListBuckets(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					fmt.Fprintln(cmd.OutOrStdout(), name)
				}
				return nil
			})
		},
	}

	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typeName, _ := cmd.Flags().GetString("type")
			config, _ := cmd.Flags().GetString("config")
			bucketType, err := mcconn.ParseBucketType(typeName)
			if err != nil {
				return err
			}
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				return conn.CreateBucket(ctx, args[0], config, bucketType)
			})
		},
	}
	create.Flags().String("type", "memcached", "memcached, couchbase, ewouldblock or nobucket")
	create.Flags().String("config", "", "engine configuration string")

	remove := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				return conn.DeleteBucket(ctx, args[0])
			})
		},
	}

	selectCmd := &cobra.Command{
		Use:   "select <name>",
		Short: "Check that a bucket can be selected",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				return conn.SelectBucket(ctx, args[0])
			})
		},
	}

	cmd.AddCommand(list, create, remove, selectCmd)
	return cmd
}

func newIoctlCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ioctl",
		Short: "Read or write server ioctl properties",
	}

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Print an ioctl property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				value, err := conn.IoctlGet(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set an ioctl property",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				return conn.IoctlSet(ctx, args[0], args[1])
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func newAuditReloadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "audit-reload",
		Short: "Ask the server to reload its audit configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				return conn.ReloadAuditConfiguration(ctx)
			})
		},
	}
}

func newPortsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ports <file>",
		Short: "Print the ports of a port file",
		Long: `Print the ports of a port file written by memcached. With --connect a
connection is opened to every port and its label is printed instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := mcconn.LoadPortDescriptors(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if connect, _ := cmd.Flags().GetBool("connect"); !connect {
				for _, p := range ports {
					fmt.Fprintln(out, p.String())
				}
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), c.v.GetDuration("timeout"))
			defer cancel()

			registry := mcconn.NewRegistry(c.config())
			if err := registry.Initialize(ctx, ports); err != nil {
				return err
			}
			defer registry.Invalidate()
			for _, conn := range registry.Connections() {
				fmt.Fprintln(out, conn.String())
			}
			return nil
		},
	}
	cmd.Flags().Bool("connect", false, "connect to every port")
	return cmd
}
