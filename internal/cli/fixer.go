package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAnalyzeCmd(g *globalOptions) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "analyze <plugin>",
		Short: "Check a service configuration against the plugin's rules",
		Long: `Analyze reads a service configuration file and reports every rule it
violates. Without --path the plugin's default locations are tried.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Analyze(cmd.Context(), args[0], path)
			if err != nil {
				return err
			}
			return a.reporter.Analysis(cmd.Context(), a.out, res)
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Configuration file path")
	return cmd
}

func newFixCmd(g *globalOptions) *cobra.Command {
	var (
		path     string
		rules    []string
		noBackup bool
		restart  bool
	)
	cmd := &cobra.Command{
		Use:   "fix <plugin>",
		Short: "Apply remediations to a service configuration",
		Long: `Fix applies the proposed fix of every current finding, or only of the
rules given with --rule. The file is backed up first as
<path>.bak.<YYYYMMDDHHMMSS> unless --no-backup is set. With --restart the
service is restarted after its configuration test passes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			backup := a.cfg.Fixer.Backup && !noBackup
			var ids []string
			if len(rules) > 0 {
				ids = rules
			}
			out, err := a.svc.ApplyFixes(cmd.Context(), args[0], path, ids, backup)
			if out != nil {
				if rerr := a.reporter.Fix(cmd.Context(), a.out, out); rerr != nil && err == nil {
					err = rerr
				}
			}
			if err != nil {
				if out != nil && out.BackupPath != "" {
					return fmt.Errorf("%w (backup kept at %s)", err, out.BackupPath)
				}
				return err
			}

			if restart && len(out.AppliedFindingIDs) > 0 {
				ok, msg := a.svc.RestartService(cmd.Context(), args[0], "")
				if err := a.reporter.Restart(cmd.Context(), a.out, "", ok, msg); err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("restart failed: %s", msg)
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&path, "path", "p", "", "Configuration file path")
	f.StringSliceVarP(&rules, "rule", "r", nil, "Rule id to fix (repeatable, comma-separated)")
	f.BoolVar(&noBackup, "no-backup", false, "Do not back up the file before changing it")
	f.BoolVar(&restart, "restart", false, "Restart the service after applying fixes")
	return cmd
}

func newRestartCmd(g *globalOptions) *cobra.Command {
	var svcName string
	cmd := &cobra.Command{
		Use:   "restart <plugin>",
		Short: "Test the configuration and restart the service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			ok, msg := a.svc.RestartService(cmd.Context(), args[0], svcName)
			if err := a.reporter.Restart(cmd.Context(), a.out, svcName, ok, msg); err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("restart failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&svcName, "service", "s", "", "Service name (default: the plugin's service)")
	return cmd
}

func newFindFixerCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "find-fixer <service>",
		Short: "Print the fixer plugin that handles a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			name, err := a.svc.FindFixer(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(a.out, name)
			return err
		},
	}
}
