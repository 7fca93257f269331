package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/0x6d61/warden/internal/attack"
	"github.com/0x6d61/warden/internal/config"
	"github.com/0x6d61/warden/internal/fixer"
	"github.com/0x6d61/warden/internal/history"
	"github.com/0x6d61/warden/internal/logger"
	"github.com/0x6d61/warden/internal/plugin"
	"github.com/0x6d61/warden/internal/plugins"
	"github.com/0x6d61/warden/internal/report"
	"github.com/0x6d61/warden/internal/service"
)

// app is everything a command needs, built from the config file and the
// persistent flags.
type app struct {
	cfg      *config.Config
	cfgPath  string
	log      *logger.Logger
	manager  *plugin.Manager
	attacker *attack.Engine
	svc      *service.Service
	store    *history.SQLiteStore
	reporter report.Reporter
	out      io.Writer
	closers  []func() error
}

// appOptions tweak newApp for commands with special needs.
type appOptions struct {
	progress func(string)
	history  bool
}

func newApp(cmd *cobra.Command, g *globalOptions, ao appOptions) (*app, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	if g.verbose >= 3 {
		cfg.Log.Level = "debug"
	}

	a := &app{cfg: cfg, cfgPath: g.configPath, out: cmd.OutOrStdout()}
	if a.cfgPath == "" {
		a.cfgPath = config.DefaultPath()
	}

	a.log, err = logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.log.Close)

	a.reporter, err = report.New(g.format)
	if err != nil {
		a.Close()
		return nil, err
	}
	if tr, ok := a.reporter.(*report.TextReporter); ok {
		tr.Verbose = g.verbose
		tr.Color = !g.noColor && g.output == ""
	}

	if g.output != "" {
		f, err := os.Create(g.output)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create output file %q: %w", g.output, err)
		}
		a.out = f
		a.closers = append(a.closers, f.Close)
	}

	dir := cfg.Plugins.Dir
	if g.pluginsDir != "" {
		dir = g.pluginsDir
	}
	reg := plugin.NewRegistry(plugins.Factories(), a.log.Logger)
	if err := reg.Load(dir, cfg.Plugins.Builtins); err != nil {
		a.Close()
		return nil, err
	}
	a.manager = plugin.NewManager(reg,
		plugin.WithManagerLogger(a.log.Logger),
		plugin.WithPluginConfigs(cfg.PluginParams()),
	)
	a.closers = append(a.closers, a.manager.Close)

	policy, err := cfg.Attack.Policy()
	if err != nil {
		a.Close()
		return nil, err
	}
	attackOpts := []attack.Option{
		attack.WithConfig(cfg.Attack.Engine()),
		attack.WithLogger(a.log.Logger),
	}
	if ao.progress != nil {
		attackOpts = append(attackOpts, attack.WithProgress(ao.progress))
	}
	fx := fixer.NewEngine(
		fixer.WithLogger(a.log.Logger),
		fixer.WithCommandTimeout(cfg.Fixer.CommandTimeout),
	)

	svcOpts := []service.Option{service.WithLogger(a.log.Logger)}
	if (ao.history || cfg.History.Enabled) && !g.noHistory {
		if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
		a.store, err = history.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, a.store.Close)
		svcOpts = append(svcOpts, service.WithHistory(a.store))
	}
	a.attacker = attack.NewEngine(policy, attackOpts...)
	a.svc = service.New(a.manager, fx, a.attacker, svcOpts...)
	return a, nil
}

// reconfigure applies a reloaded config to the running plugins and the
// attack policy. An invalid policy leaves the previous one in force.
func (a *app) reconfigure(cur *config.Config) {
	if err := a.manager.ApplyConfig(cur.PluginParams()); err != nil {
		a.log.Error("plugin reconfiguration failed", "error", err)
	}
	policy, err := cur.Attack.Policy()
	if err != nil {
		a.log.Error("attack policy not updated, keeping previous policy", "error", err)
		return
	}
	a.attacker.SetPolicy(policy)
	a.log.Info("attack policy updated",
		"prohibited", len(cur.Attack.Prohibited),
		"prohibited_hosts", len(cur.Attack.ProhibitedHosts))
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
	a.closers = nil
}
