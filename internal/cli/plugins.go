package cli

import (
	"github.com/spf13/cobra"

	"github.com/0x6d61/warden/internal/plugin"
)

func newPluginsCmd(g *globalOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List registered plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := plugin.ParseKind(kind)
			if err != nil {
				return err
			}
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			descs := a.manager.Registry().List(k)
			return a.reporter.Plugins(cmd.Context(), a.out, descs)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "all", "Plugin kind (fixer, attacker, all)")
	return cmd
}
