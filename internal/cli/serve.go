package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/0x6d61/warden/internal/api"
	"github.com/0x6d61/warden/internal/config"
)

func newServeCmd(g *globalOptions) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve exposes plugins, analysis, fixes, restarts, attacks and the task
history under /api/v1. With --watch, edits to the config file reconfigure
the plugins and the prohibited target list without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, g, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			if watch {
				if _, err := os.Stat(a.cfgPath); err == nil {
					w := config.NewWatcher(a.cfgPath, a.cfg, config.WithWatcherLogger(a.log.Logger))
					w.OnChange(func(_, cur *config.Config) { a.reconfigure(cur) })
					if err := w.Start(cmd.Context()); err != nil {
						return err
					}
					defer w.Stop()
				} else {
					a.log.Warn("config file not found, not watching", "path", a.cfgPath)
				}
			}

			srv := api.New(api.Config{
				Addr:         addr,
				Mode:         a.cfg.Server.Mode,
				ReadTimeout:  a.cfg.Server.ReadTimeout,
				WriteTimeout: a.cfg.Server.WriteTimeout,
				Version:      version,
				NoBackup:     !a.cfg.Fixer.Backup,
			}, a.svc, a.log.Logger)
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default: server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload plugin configuration and attack policy when the config file changes")
	return cmd
}
