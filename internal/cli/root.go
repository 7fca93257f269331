// Package cli implements the warden command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set by build flags)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	pluginsDir string
	format     string
	output     string
	verbose    int
	noColor    bool
	noHistory  bool
}

// NewRootCommand builds the command tree. Each call returns fresh flag
// state.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "warden",
		Short: "Security configuration supervisor and attack tester",
		Long: `warden - security configuration supervisor and attack tester

warden inspects service configuration files against security rules,
applies remediations with backups and restarts services once their
configuration self-test passes. Its attack plugins then verify that the
hardening holds against live targets.

WARNING: Attack only systems you have explicit permission to test.
Unauthorized access to computer systems is illegal.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Config file (default $WARDEN_CONFIG or ~/.config/warden/config.yaml)")
	pf.StringVar(&opts.pluginsDir, "plugins-dir", "", "Directory of plugin manifests (overrides plugins.dir)")
	pf.StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	pf.StringVarP(&opts.output, "output", "o", "", "Output file path")
	pf.IntVarP(&opts.verbose, "verbose", "v", 0, "Verbosity level (0-3)")
	pf.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	pf.BoolVar(&opts.noHistory, "no-history", false, "Do not record this run in the task history")

	root.AddCommand(
		newVersionCmd(),
		newPluginsCmd(opts),
		newAnalyzeCmd(opts),
		newFixCmd(opts),
		newRestartCmd(opts),
		newFindFixerCmd(opts),
		newAttackCmd(opts),
		newServeCmd(opts),
		newHistoryCmd(opts),
	)
	return root
}

// Execute runs the CLI with os.Args. CTRL+C cancels the running
// operation gracefully.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCommand().ExecuteContext(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "warden %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
