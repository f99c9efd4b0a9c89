// Package cli implements the fitsync command line.
package cli

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"fitsync/internal/config"
)

// Execute runs the root command.
func Execute() error {
	return ExecuteWithVersion("dev")
}

// ExecuteWithVersion runs the root command, reporting version in --version.
func ExecuteWithVersion(version string) error {
	return newRootCmd(version).Execute()
}

// rootOptions carries persistent flags.
type rootOptions struct {
	configPath string
}

// load reads, overrides and validates the config, then installs the logger.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadWithEnv(o.configPath)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(newLogger(cfg.Log, cmd.ErrOrStderr()))
	return cfg, nil
}

func newRootCmd(version string) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "fitsync",
		Short:         "Offline cache and write queue for the gym member portal",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fitsync.yaml", "Path to the YAML config file")

	cmd.AddCommand(
		newServeCmd(opts, version),
		newStatusCmd(opts),
		newSyncCmd(opts),
		newQueueCmd(opts),
		newCacheCmd(opts),
		newHashTokenCmd(),
	)
	return cmd
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// writeJSON prints v as indented JSON.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
