package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/params"
)

func newAttackCmd(g *globalOptions) *cobra.Command {
	var (
		rawOpts []string
		vectors []string
		port    int
	)
	cmd := &cobra.Command{
		Use:   "attack <plugin> <target>",
		Short: "Run a plugin's attack vectors against a target",
		Long: `Attack checks that the target is eligible, probes it and runs the
plugin's attack vectors concurrently. The target is a host, host:port or
URL. Vector options are passed as --opt key=value.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := parseOptions(rawOpts)
			if err != nil {
				return err
			}
			if len(vectors) > 0 {
				opts["vectors"] = strings.Join(vectors, ",")
			}
			if port > 0 {
				opts["port"] = port
			}

			errOut := cmd.ErrOrStderr()
			fmt.Fprintln(errOut, "[!] Legal disclaimer: Usage of warden for attacking targets without prior mutual consent is illegal.")
			var progress func(string)
			if g.verbose > 0 {
				progress = func(msg string) { fmt.Fprintf(errOut, "[*] %s\n", msg) }
			}

			a, err := newApp(cmd, g, appOptions{progress: progress})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.ExecuteAttack(cmd.Context(), args[0], args[1], opts)
			if err != nil {
				return err
			}
			if err := a.reporter.Attack(cmd.Context(), a.out, res); err != nil {
				return fmt.Errorf("failed to generate report: %w", err)
			}
			if res.State == attack.StateCancelled {
				return cmd.Context().Err()
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&rawOpts, "opt", nil, "Vector option key=value (repeatable, e.g. --opt max_attempts=5)")
	f.StringSliceVar(&vectors, "vectors", nil, "Run only these vectors (comma-separated)")
	f.IntVar(&port, "port", 0, "Port when the target has none (default: the plugin's port)")
	return cmd
}

// parseOptions turns key=value pairs into attack options.
func parseOptions(raw []string) (params.Params, error) {
	opts := params.Params{}
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q (want key=value)", kv)
		}
		opts[k] = strings.TrimSpace(v)
	}
	return opts, nil
}
