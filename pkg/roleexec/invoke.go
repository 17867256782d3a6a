package roleexec

import (
	"context"
	"strings"
	"time"

	"github.com/grovepm/grove-team/pkg/execshim"
)

// shellUtilities is the set of first-token commands that run directly via
// a shell rather than through the Agent CLI wrapper (spec.md §4.5 step 3).
var shellUtilities = map[string]bool{
	"bash": true, "echo": true, "git": true, "node": true, "npm": true,
	"python": true, "python3": true, "sh": true, "tmux": true,
	"yarn": true, "bun": true, "pnpm": true, "npx": true,
}

// defaultProviderBins is the provider→binary map (spec.md §4.5 step 3),
// overridable by the caller from env (internal/config.Config.ProviderCLIBin).
var defaultProviderBins = map[string]string{
	"codex":  "codex",
	"claude": "claude",
	"gemini": "gemini",
}

// Invocation is the resolved subprocess call for one role execution.
type Invocation struct {
	Name string
	Args []string
}

// Classify decides whether the rendered command runs as a raw shell
// command or is wrapped in the Agent CLI's `exec` subcommand, per
// spec.md §4.5 step 3.
func Classify(rendered, provider, workdir string, providerBins map[string]string) Invocation {
	binName := defaultProviderBins[provider]
	if override, ok := providerBins[provider]; ok && override != "" {
		binName = override
	}

	firstToken := firstWhitespaceToken(rendered)
	if shellUtilities[firstToken] || firstToken == binName {
		return Invocation{Name: "sh", Args: []string{"-lc", rendered}}
	}

	return Invocation{
		Name: binName,
		Args: []string{"exec", "--json", "--full-auto", "--skip-git-repo-check", "--cd", workdir, rendered},
	}
}

func firstWhitespaceToken(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return ""
	}
	if idx := strings.IndexAny(trimmed, " \t\n"); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// Timeout computes the per-attempt subprocess timeout: max(30s,
// timeoutSeconds * 1s), per spec.md §4.5 step 3.
func Timeout(timeoutSeconds int) time.Duration {
	t := time.Duration(timeoutSeconds) * time.Second
	if t < 30*time.Second {
		return 30 * time.Second
	}
	return t
}

// Run executes the invocation with the given timeout and working
// directory, returning combined stdout+stderr and the exit code.
func Run(ctx context.Context, executor execshim.CommandExecutor, inv Invocation, workdir string, timeout time.Duration) (combined string, exitCode int, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return executor.ExecuteCapture(runCtx, workdir, inv.Name, inv.Args...)
}
