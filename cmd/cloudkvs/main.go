// Command cloudkvs stores and fetches values through a redundancy scheme spread over the
// configured cloud providers, and serves the admin API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sharedcode/cloudkvs"
	"github.com/sharedcode/cloudkvs/config"
	"github.com/sharedcode/cloudkvs/facade"
)

const defaultConfigFile = "cloudkvs.yaml"

type cli struct {
	cfgFile   string
	logLevel  string
	scheme    string
	providers string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	rootCmd := &cobra.Command{
		Use:   "cloudkvs",
		Short: "cloudkvs - redundant key-value storage over multiple cloud providers",
		Long: `cloudkvs spreads every value over several storage providers using replication
(r-N), Reed-Solomon erasure coding (e-K-M) or threshold secret sharing (s-N-M-R),
so values survive provider outages and no single provider sees a whole value.

  cloudkvs put photo.jpg ./photo.jpg
  cloudkvs get photo.jpg ./copy.jpg --scheme s-4-1-2
  cloudkvs backends
  cloudkvs serve`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cloudkvs.ConfigureLogging()
			if cmd.Flags().Changed("log-level") || os.Getenv("CLOUDKVS_LOG_LEVEL") == "" {
				cloudkvs.SetLogLevel(cloudkvs.ParseLogLevel(c.logLevel))
			}
		},
	}
	rootCmd.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().StringVarP(&c.logLevel, "log-level", "l", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&c.scheme, "scheme", "s", "", "redundancy scheme id, e.g. r-3, e-2-1, s-4-1-2 (default: the configured default_scheme)")
	rootCmd.PersistentFlags().StringVarP(&c.providers, "providers", "p", "", "';' separated provider ids for --scheme (default: default_providers)")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "put <key> <file|->",
			Short: "Store a file (or stdin) under key",
			Args:  cobra.ExactArgs(2),
			RunE:  c.runPut,
		},
		&cobra.Command{
			Use:   "get <key> [file]",
			Short: "Fetch key into a file (or stdout)",
			Args:  cobra.RangeArgs(1, 2),
			RunE:  c.runGet,
		},
		&cobra.Command{
			Use:   "rm <key>",
			Short: "Delete key from every provider of the scheme",
			Args:  cobra.ExactArgs(1),
			RunE:  c.runRm,
		},
		&cobra.Command{
			Use:   "du",
			Short: "Show the space used by the scheme's providers",
			Args:  cobra.NoArgs,
			RunE:  c.runDu,
		},
		&cobra.Command{
			Use:   "backends",
			Short: "List providers with their health",
			Args:  cobra.NoArgs,
			RunE:  c.runBackends,
		},
		&cobra.Command{
			Use:   "probe",
			Short: "Measure every provider's latency once",
			Args:  cobra.NoArgs,
			RunE:  c.runProbe,
		},
		&cobra.Command{
			Use:   "serve",
			Short: "Run the admin API until interrupted",
			Args:  cobra.NoArgs,
			RunE:  c.runServe,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Show version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "cloudkvs %s\n", cloudkvs.Version)
			},
		},
	)
	return rootCmd
}

// open loads the configuration and builds the gateway. Commands that do not serve disable
// the background prober.
func (c *cli) open(ctx context.Context, prober bool) (*config.Gateway, error) {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return nil, err
	}
	if !prober {
		cfg.ProbePeriod = -1
	}
	return config.Open(ctx, cfg)
}

// facade resolves the facade selected by --scheme and --providers.
func (c *cli) facade(g *config.Gateway) (facade.Facade, error) {
	if c.providers != "" {
		scheme := c.scheme
		if scheme == "" {
			scheme = g.Config.DefaultScheme
		}
		return g.Registry.FindOrBuild(scheme, c.providers)
	}
	return g.Facade(c.scheme)
}
