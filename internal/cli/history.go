package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/severity"
)

var errHistoryDisabled = errors.New("task history is disabled (--no-history)")

func newHistoryCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Review recorded analyses, fixes, restarts and attacks",
	}
	cmd.AddCommand(
		newHistoryListCmd(g),
		newHistoryShowCmd(g),
		newHistoryDeleteCmd(g),
		newHistoryPruneCmd(g),
	)
	return cmd
}

// openHistory builds the app with the store open even when recording is
// disabled in the config.
func openHistory(cmd *cobra.Command, g *globalOptions) (*app, error) {
	a, err := newApp(cmd, g, appOptions{history: true})
	if err != nil {
		return nil, err
	}
	if a.store == nil {
		a.Close()
		return nil, errHistoryDisabled
	}
	return a, nil
}

func newHistoryListCmd(g *globalOptions) *cobra.Command {
	var (
		kind, pluginName, minSev string
		limit                    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := history.Filter{Plugin: pluginName, Limit: limit}
			var err error
			if f.Kind, err = history.ParseKind(kind); err != nil {
				return err
			}
			if minSev != "" {
				if f.MinSeverity, err = severity.Parse(minSev); err != nil {
					return err
				}
			}

			a, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			tasks, err := a.store.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return a.reporter.Tasks(cmd.Context(), a.out, tasks)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&kind, "kind", "", "Task kind (analyze, fix, restart, attack)")
	fl.StringVar(&pluginName, "plugin", "", "Plugin name")
	fl.StringVar(&minSev, "min-severity", "", "Minimum severity (info, low, medium, high, critical)")
	fl.IntVarP(&limit, "limit", "n", 20, "Maximum number of tasks (0 for all)")
	return cmd
}

func newHistoryShowCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			task, err := a.store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.reporter.Task(cmd.Context(), a.out, task)
		},
	}
}

func newHistoryDeleteCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete recorded tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			for _, id := range args {
				if err := a.store.Delete(cmd.Context(), id); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(a.out, "Deleted %d task(s)\n", len(args))
			return err
		},
	}
}

func newHistoryPruneCmd(g *globalOptions) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete tasks older than a given age",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			a, err := openHistory(cmd, g)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.store.Cleanup(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out, "Pruned %d task(s)\n", n)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age threshold")
	return cmd
}
