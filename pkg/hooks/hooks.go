// Package hooks runs recipe and global hook commands with a hardened
// environment, per spec.md §4.F "Hook execution" and §9's "Dynamic shell
// execution" design note.
//
// Build/install blocks are free-form shell and are handed to /bin/sh -c
// verbatim (spec.md §9: "delegate to a standard shell interpreter"). Hook
// commands are shorter, single-purpose lines, so porg tokenizes them with
// github.com/google/shlex into a hardened argv and execs directly — no
// shell, no injection surface — matching spec.md §9's "hardened arg vector"
// phrasing and the teacher's own go.mod pin of google/shlex (used there for
// the GPG unlock command, pkg/gpg/gpg.go).
package hooks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/google/shlex"

	"github.com/fcanata00/porg/pkg/porgerr"
)

// Env is the fixed set of variables exported to hooks and build commands
// (spec.md §6).
type Env struct {
	DestDir string
	Jobs    string
	Name    string
	Version string
	Prefix  string
}

func (e Env) toSlice() []string {
	return []string{
		"DESTDIR=" + e.DestDir,
		"JOBS=" + e.Jobs,
		"PKG_NAME=" + e.Name,
		"PKG_VERSION=" + e.Version,
		"PKG_PREFIX=" + e.Prefix,
	}
}

// Result captures one hook command's outcome for session-log attribution
// (SPEC_FULL.md §C.1, grounded on the teacher's pkg/elog per-stage message
// buckets).
type Result struct {
	Command  string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Run executes one hook command line with Env exported and nothing else —
// no PATH inheritance beyond what exec.LookPath already requires, no
// ambient shell variables — and captures stdout/stderr for the caller to
// attribute to the calling stage.
func Run(ctx context.Context, dir, commandLine string, env Env) (Result, error) {
	args, err := shlex.Split(commandLine)
	if err != nil {
		return Result{}, fmt.Errorf("hooks: tokenize %q: %w", commandLine, porgerr.ErrHookFailed)
	}
	if len(args) == 0 {
		return Result{Command: commandLine}, nil
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = env.toSlice()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := Result{Command: commandLine}
	runErr := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, fmt.Errorf("hooks: %q exited %d: %w", commandLine, res.ExitCode, porgerr.ErrHookFailed)
		}
		return res, fmt.Errorf("hooks: %q: %w: %v", commandLine, porgerr.ErrHookFailed, runErr)
	}
	return res, nil
}

// RunStage runs every command for a named stage in order. A non-zero exit
// is fatal unless force is set, in which case it is downgraded: the
// remaining commands in the stage still run, and the stage as a whole
// reports success (spec.md §4.F: "downgraded to a warning").
//
// logWarn receives the downgraded failure's message so the caller's Logger
// can record it at WARN without this package importing pkg/logger.
func RunStage(ctx context.Context, dir string, commands []string, env Env, force bool, logWarn func(string)) ([]Result, error) {
	var results []Result
	for _, c := range commands {
		res, err := Run(ctx, dir, c, env)
		results = append(results, res)
		if err != nil {
			if force {
				if logWarn != nil {
					logWarn(err.Error())
				}
				continue
			}
			return results, err
		}
	}
	return results, nil
}

// CapturedOutput writes a Result's stdout/stderr to w with the command line
// as a header, for session-log attribution.
func CapturedOutput(w io.Writer, res Result) {
	fmt.Fprintf(w, "+ %s\n", res.Command)
	if res.Stdout != "" {
		io.WriteString(w, res.Stdout)
	}
	if res.Stderr != "" {
		io.WriteString(w, res.Stderr)
	}
}
