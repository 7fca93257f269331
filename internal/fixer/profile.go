package fixer

import (
	"slices"
	"strings"
)

// Profile is everything a fixer plugin declares about the service it
// hardens: rules, where its configuration lives and how to restart it.
type Profile struct {
	// Service is the default service name used by RestartService.
	Service string
	// Services lists every service name this profile can handle.
	Services []string
	// ConfigPaths are tried in order when no explicit path is given.
	ConfigPaths []string
	Rules       []Rule
	// TestCommand validates the configuration before a restart. Arguments
	// may contain {service}.
	TestCommand []string
	// RestartCommands are tried in order; the first success wins.
	RestartCommands [][]string
}

// Rule returns the rule with the given id.
func (p *Profile) Rule(id string) (Rule, bool) {
	for _, r := range p.Rules {
		if r.ID() == id {
			return r, true
		}
	}
	return Rule{}, false
}

// Supports reports whether service is handled by this profile.
func (p *Profile) Supports(service string) bool {
	return slices.ContainsFunc(p.Services, func(s string) bool {
		return strings.EqualFold(s, service)
	})
}

func expand(args []string, service string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "{service}", service)
	}
	return out
}
