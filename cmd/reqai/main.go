// Package main is the reqai CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/reqai/internal/cli"
	"github.com/hyperjump/reqai/internal/config"
	"github.com/spf13/cobra"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/reqai/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// errCommandFailed marks a command whose failure was already written to stdout.
var errCommandFailed = errors.New("command failed")

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	debug      bool
	serverURL  string
	output     string
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			// no config installed: run on defaults
			cfg := &config.Config{}
			config.ApplyDefaults(cfg)
			return cfg, "", cfg.Validate()
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "reqai",
		Short:         "reqai - browse, edit and semantically search a requirements record store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := cli.ParseFormat(opts.output)
			return err
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.serverURL, "server", defaultServerURL, `server URL (empty = run against the record store directly)`)
	flags.StringVarP(&opts.output, "output", "o", string(cli.OutputText), "output format: text or json")

	root.AddCommand(
		newServeCmd(opts),
		newTypesCmd(opts),
		newListCmd(opts),
		newFormCmd(opts),
		newFilterCmd(opts),
		newFacetsCmd(opts),
		newSearchCmd(opts),
		newCreateCmd(opts),
		newUpdateCmd(opts),
		newDeleteCmd(opts),
		newReindexCmd(opts),
		newStatusCmd(opts),
		newExportCmd(opts),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reqai version %s\n", version)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errCommandFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}
