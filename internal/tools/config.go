package tools

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Config holds tool-system configuration.
type Config struct {
	Enabled             []string `mapstructure:"enabled"`               // enabled tool spec names, empty = all
	ShellDeny           []string `mapstructure:"shell_deny"`            // command glob patterns refused outright
	ShellTimeoutSeconds int      `mapstructure:"shell_timeout_seconds"` // per-command cap
	MaxLines            int      `mapstructure:"max_lines"`
	MaxBytes            int64    `mapstructure:"max_bytes"`
	MaxResults          int      `mapstructure:"max_results"`
}

// DefaultConfig returns sensible defaults: all tools on, destructive
// command patterns denied.
func DefaultConfig() Config {
	return Config{
		Enabled: AllToolNames(),
		ShellDeny: []string{
			"rm -rf /*",
			"*mkfs*",
			"*:(){*", // fork bomb
		},
		ShellTimeoutSeconds: 120,
	}
}

// Validate checks tool names and deny patterns.
func (c *Config) Validate() []error {
	var errs []error
	for _, name := range c.Enabled {
		if !ValidToolName(name) {
			errs = append(errs, fmt.Errorf("unknown tool: %s", name))
		}
	}
	for _, pattern := range c.ShellDeny {
		if _, err := glob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Errorf("invalid shell deny pattern %q: %w", pattern, err))
		}
	}
	return errs
}

// Limits derives OutputLimits from the config, falling back to defaults
// for unset fields.
func (c *Config) Limits() OutputLimits {
	limits := DefaultOutputLimits()
	if c.MaxLines > 0 {
		limits.MaxLines = c.MaxLines
	}
	if c.MaxBytes > 0 {
		limits.MaxBytes = c.MaxBytes
	}
	if c.MaxResults > 0 {
		limits.MaxResults = c.MaxResults
	}
	return limits
}

// IsToolEnabled checks if a tool is enabled. An empty Enabled list enables
// everything.
func (c *Config) IsToolEnabled(specName string) bool {
	if len(c.Enabled) == 0 {
		return true
	}
	for _, name := range c.Enabled {
		if name == specName {
			return true
		}
	}
	return false
}

// denyMatcher compiles the deny patterns once for the shell tool.
type denyMatcher struct {
	patterns []glob.Glob
	raw      []string
}

func newDenyMatcher(patterns []string) *denyMatcher {
	m := &denyMatcher{}
	for _, p := range patterns {
		compiled, err := glob.Compile(p)
		if err != nil {
			continue
		}
		m.patterns = append(m.patterns, compiled)
		m.raw = append(m.raw, p)
	}
	return m
}

// Match returns the raw pattern a command matches, or "".
func (m *denyMatcher) Match(command string) string {
	trimmed := strings.TrimSpace(command)
	for i, p := range m.patterns {
		if p.Match(trimmed) {
			return m.raw[i]
		}
	}
	return ""
}

// ParseToolsFlag parses a comma-separated tool list; "all" and "*" expand
// to every tool.
func ParseToolsFlag(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	if trimmed == "all" || trimmed == "*" {
		return AllToolNames()
	}
	var out []string
	for _, p := range strings.Split(trimmed, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
