package fixer

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner runs an external command and returns its combined output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements CommandRunner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// RestartService validates the configuration with the profile's test
// command and then tries each restart mechanism in order. A failing
// configuration test aborts before any restart is attempted.
func (e *Engine) RestartService(ctx context.Context, p *Profile, service string) (bool, string) {
	if service == "" {
		service = p.Service
	}
	if service == "" {
		return false, "no service name given"
	}

	if len(p.TestCommand) > 0 {
		argv := expand(p.TestCommand, service)
		out, err := e.run(ctx, argv)
		switch {
		case err == nil:
			e.logger.Debug("configuration test passed", "service", service, "command", strings.Join(argv, " "))
		case errors.Is(err, exec.ErrNotFound):
			e.logger.Warn("configuration test command not found, continuing", "service", service, "command", argv[0])
		default:
			msg := fmt.Sprintf("configuration test failed, %s not restarted: %s", service, summarize(out, err))
			e.logger.Error("configuration test failed", "service", service, "error", err)
			return false, msg
		}
	}

	var tried []string
	for _, cmd := range p.RestartCommands {
		if len(cmd) == 0 {
			continue
		}
		argv := expand(cmd, service)
		out, err := e.run(ctx, argv)
		if err == nil {
			e.logger.Info("service restarted", "service", service, "command", strings.Join(argv, " "))
			return true, fmt.Sprintf("%s restarted with %q", service, strings.Join(argv, " "))
		}
		if ctx.Err() != nil {
			return false, fmt.Sprintf("restart of %s cancelled: %v", service, ctx.Err())
		}
		e.logger.Debug("restart mechanism failed", "service", service, "command", argv[0], "error", err)
		tried = append(tried, fmt.Sprintf("%s (%s)", strings.Join(argv, " "), summarize(out, err)))
	}

	if len(tried) == 0 {
		return false, fmt.Sprintf("no restart mechanism declared for %s", service)
	}
	return false, fmt.Sprintf("could not restart %s, restart it manually; tried: %s", service, strings.Join(tried, "; "))
}

func (e *Engine) run(ctx context.Context, argv []string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, e.commandTimeout)
	defer cancel()
	return e.runner.Run(ctx, argv[0], argv[1:]...)
}

// maxSummaryRunes bounds command output quoted in restart messages.
const maxSummaryRunes = 200

func summarize(out []byte, err error) string {
	if s := strings.TrimSpace(string(out)); s != "" {
		if r := []rune(s); len(r) > maxSummaryRunes {
			s = string(r[:maxSummaryRunes]) + "..."
		}
		return s
	}
	return err.Error()
}
