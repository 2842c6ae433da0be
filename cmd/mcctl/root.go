package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// cli holds the state shared by the subcommands of one invocation.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger
}

// initConfig loads .env files and maps MCCTL_* environment variables onto
// the flags.
func initConfig(v *viper.Viper) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v.SetEnvPrefix("mcctl")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

func newRootCmd() *cobra.Command {
	c := &cli{v: viper.New()}
	initConfig(c.v)

	root := &cobra.Command{
		Use:   "mcctl",
		Short: "Run commands against a memcached port",
		Long: `mcctl connects to one memcached port, speaking the binary protocol or
Greenstack, and runs a single command.

Every flag can also be set with an MCCTL_ prefixed environment variable,
for example MCCTL_PASSWORD. .env and .env.local are loaded when present.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := c.v.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			level := slog.LevelWarn
			if c.v.GetBool("debug") {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("ports-file", "", "port file written by memcached; the connection is picked from it")
	flags.String("host", "127.0.0.1", "server host")
	flags.Int("port", 0, "server port, 11210 when 0 (0 matches any port of the ports file)")
	flags.String("protocol", "memcached", "memcached or greenstack")
	flags.String("family", "", "AF_INET, AF_INET6 or empty for any")
	flags.Bool("tls", false, "connect with TLS")
	flags.Bool("tls-insecure", false, "skip server certificate verification")
	flags.String("user", "", "SASL user name, no authentication when empty")
	flags.String("password", "", "SASL password")
	flags.String("mech", "", "SASL mechanism, the strongest advertised one when empty")
	flags.String("bucket", "", "bucket to select after authentication")
	flags.Duration("timeout", 5*time.Second, "timeout of the whole command")
	flags.Bool("debug", false, "log connection events")

	root.AddCommand(
		newPortsCmd(c),
		newHelloCmd(c),
		newGetCmd(c),
		newStatsCmd(c),
		newBucketsCmd(c),
		newIoctlCmd(c),
		newAuditReloadCmd(c),
		newVBucketCmd(),
	)
	for _, mutation := range []string{"set", "add", "replace", "append", "prepend"} {
		root.AddCommand(newMutateCmd(c, mutation))
	}
	return root
}
