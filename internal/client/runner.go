package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/h4ppyfarm/farm/internal/timeutil"
)

// Outcome classifies one exploit run against one team.
type Outcome int

const (
	// OutcomeFlags: exit 0 with at least one flag captured.
	OutcomeFlags Outcome = iota
	// OutcomeNoFlags: exit 0 but no match in stdout. Not a failure for
	// the filter; the team may simply have patched.
	OutcomeNoFlags
	// OutcomeCrashed: non-zero exit.
	OutcomeCrashed
	// OutcomeTimedOut: hard-killed at the timeout.
	OutcomeTimedOut
)

// Runner executes one exploit subprocess against one team and extracts
// flags from its stdout.
type Runner struct {
	ExploitPath string
	// Interpreter is empty when the exploit is directly executable.
	Interpreter string
	Timeout     time.Duration
	FlagRegexp  *regexp.Regexp
}

// CheckExploit validates the exploit before the first wave. An
// executable file runs directly; anything else needs an interpreter.
// Python exploits are additionally checked for unflushed prints, the
// classic way to lose flags to a timeout kill.
func (r *Runner) CheckExploit() error {
	info, err := os.Stat(r.ExploitPath)
	if err != nil {
		return fmt.Errorf("could not open %s: %w", r.ExploitPath, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", r.ExploitPath)
	}

	if r.Interpreter == "" {
		if info.Mode()&0o111 == 0 {
			return fmt.Errorf("%s is not executable: pass --interpreter to run it as a script", r.ExploitPath)
		}
		return nil
	}

	if strings.Contains(r.Interpreter, "python") {
		source, err := os.ReadFile(r.ExploitPath)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", r.ExploitPath, err)
		}
		if !regexp.MustCompile(`flush\s*=\s*True`).Match(source) {
			return fmt.Errorf("please use print(..., flush=True) in your script, instead of just print(...)")
		}
	}
	return nil
}

// Run spawns the exploit against team, enforces the timeout with a hard
// kill, and returns the captured tokens. All tokens from one run share a
// capture timestamp taken after the process exits.
func (r *Runner) Run(ctx context.Context, team string) ([]Token, Outcome) {
	timeout := r.Timeout
	if timeout < time.Second {
		timeout = time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if r.Interpreter == "" {
		cmd = exec.CommandContext(runCtx, r.ExploitPath, team)
	} else {
		cmd = exec.CommandContext(runCtx, r.Interpreter, r.ExploitPath, team)
	}
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, OutcomeTimedOut
	}
	if err != nil {
		return nil, OutcomeCrashed
	}

	matches := r.FlagRegexp.FindAllString(stdout.String(), -1)
	if len(matches) == 0 {
		return nil, OutcomeNoFlags
	}

	ts := timeutil.Now()
	tokens := make([]Token, 0, len(matches))
	for _, m := range matches {
		tokens = append(tokens, Token{Flag: m, TS: ts})
	}
	return tokens, OutcomeFlags
}
