package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"powledger/config"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) || errors.Is(err, config.ErrConfigNotFound) {
			os.Exit(exitConfigError)
		}
		os.Exit(exitFailure)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "powledger",
		Short:         "Proof-of-work ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		newRunCommand(opts),
		newWalletCommand(opts),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "powledger", version)
		},
	}
}

// loadConfig reads the file given with --config, or starts from the
// defaults. Environment overrides apply in both cases.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.Load(o.configPath)
	}
	cfg := config.Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
