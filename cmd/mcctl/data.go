package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pior/mcconn"
)

func addVBucketFlags(cmd *cobra.Command) {
	cmd.Flags().Int("vbucket", -1, "vbucket of the key, derived from the key when negative")
	cmd.Flags().Int("vbuckets", mcconn.DefaultNumVBuckets, "number of vbuckets of the bucket")
}

func vbucketFor(cmd *cobra.Command, key string) uint16 {
	vb, _ := cmd.Flags().GetInt("vbucket")
	if vb >= 0 {
		return uint16(vb)
	}
	n, _ := cmd.Flags().GetInt("vbuckets")
	return mcconn.VBucketForKey(key, n)
}

func newGetCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Print the value of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			showMeta, _ := cmd.Flags().GetBool("meta")
			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				doc, err := conn.Get(ctx, args[0], vbucketFor(cmd, args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if showMeta {
					fmt.Fprintf(out, "flags=%d cas=%d datatype=%d expiration=%q\n",
						doc.Info.Flags, doc.Info.Cas, doc.Info.Datatype, doc.Info.Expiration)
				}
				fmt.Fprintf(out, "%s\n", doc.Value)
				return nil
			})
		},
	}
	addVBucketFlags(cmd)
	cmd.Flags().Bool("meta", false, "print the document metadata before the value")
	return cmd
}

func newMutateCmd(c *cli, name string) *cobra.Command {
	mutation, err := mcconn.ParseMutationType(name)
	if err != nil {
		panic(err)
	}

	cmd := &cobra.Command{
		Use:   name + " <key> <value>",
		Short: fmt.Sprintf("Store a document with %s semantics", name),
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags, _ := cmd.Flags().GetUint32("flags")
			expiration, _ := cmd.Flags().GetString("expiration")
			cas, _ := cmd.Flags().GetUint64("cas")
			isJSON, _ := cmd.Flags().GetBool("json")

			doc := mcconn.Document{
				Info: mcconn.DocumentInfo{
					ID:         args[0],
					Flags:      flags,
					Expiration: expiration,
					Cas:        cas,
				},
				Value: []byte(args[1]),
			}
			if isJSON {
				doc.Info.Datatype = mcconn.DatatypeJSON
			}

			return c.run(cmd, func(ctx context.Context, conn mcconn.Connection) error {
				info, err := conn.Mutate(ctx, doc, vbucketFor(cmd, args[0]), mutation)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cas=%d seqno=%d\n", info.Cas, info.Seqno)
				return nil
			})
		},
	}
	addVBucketFlags(cmd)
	cmd.Flags().Uint32("flags", 0, "user flags of the document")
	cmd.Flags().String("expiration", "", "expiration in seconds")
	cmd.Flags().Uint64("cas", 0, "only store when the document has this cas")
	cmd.Flags().Bool("json", false, "mark the value as JSON")
	return cmd
}

func newVBucketCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vbucket <key>...",
		Short: "Print the vbucket of each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("vbuckets")
			for _, key := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", key, mcconn.VBucketForKey(key, n))
			}
			return nil
		},
	}
	cmd.Flags().Int("vbuckets", mcconn.DefaultNumVBuckets, "number of vbuckets of the bucket")
	return cmd
}
