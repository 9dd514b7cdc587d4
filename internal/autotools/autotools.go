// Package autotools wraps the classic configure/make/make-install workflow
// for cross-compiled, out-of-tree builds.
package autotools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Command is one external invocation, fully resolved.
type Command struct {
	Dir  string
	Name string
	Args []string
	Env  map[string]string
}

// Runner executes a Command. The default runner shells out; tests substitute
// a recording implementation.
type Runner func(ctx context.Context, cmd Command) error

// AutoTools drives Autotools-style builds. The build directory is separate
// from the source directory so concurrent units for the same library never
// share a working tree.
type AutoTools struct {
	sourceDir  string
	buildDir   string
	installDir string
	env        map[string]string
	run        Runner
}

// New returns a ready-to-use AutoTools. installDir becomes the configure
// --prefix; buildDir is created on Configure.
func New(sourceDir, buildDir, installDir string) *AutoTools {
	return &AutoTools{
		sourceDir:  sourceDir,
		buildDir:   buildDir,
		installDir: installDir,
		env:        make(map[string]string),
	}
}

// SetRunner overrides command execution.
func (a *AutoTools) SetRunner(run Runner) { a.run = run }

// Env sets key=value for every command spawned later. Unlike the process
// environment, the overlay is scoped to this instance.
func (a *AutoTools) Env(key, value string) {
	a.env[key] = value
}

// Configure runs <sourceDir>/configure inside buildDir.
// --prefix is prepended automatically when installDir is set; extra flags
// are appended after it, so later flags win under configure's own
// last-one-wins precedence.
func (a *AutoTools) Configure(ctx context.Context, args ...string) error {
	if err := os.MkdirAll(a.buildDir, 0o755); err != nil {
		return err
	}
	exe, err := filepath.Abs(filepath.Join(a.sourceDir, "configure"))
	if err != nil {
		return err
	}
	flags := make([]string, 0, 1+len(args))
	if a.installDir != "" {
		prefix, err := filepath.Abs(a.installDir)
		if err != nil {
			return err
		}
		flags = append(flags, "--prefix="+prefix)
	}
	return a.exec(ctx, exe, append(flags, args...))
}

// Build runs "make" with optional extra arguments.
func (a *AutoTools) Build(ctx context.Context, args ...string) error {
	return a.exec(ctx, "make", args)
}

// Install runs "make install" with optional extra arguments appended.
func (a *AutoTools) Install(ctx context.Context, args ...string) error {
	return a.exec(ctx, "make", append([]string{"install"}, args...))
}

// EnsureConfigure generates the configure script via autogen.sh when the
// checkout does not ship one. Idempotent: a present configure script is
// left alone.
func EnsureConfigure(ctx context.Context, run Runner, sourceDir string, env map[string]string) error {
	if _, err := os.Stat(filepath.Join(sourceDir, "configure")); err == nil {
		return nil
	}
	if _, err := os.Stat(filepath.Join(sourceDir, "autogen.sh")); err != nil {
		return fmt.Errorf("no configure or autogen.sh in %s", sourceDir)
	}
	if run == nil {
		run = Execute
	}
	return run(ctx, Command{
		Dir:  sourceDir,
		Name: "sh",
		Args: []string{"./autogen.sh"},
		Env:  env,
	})
}

func (a *AutoTools) exec(ctx context.Context, name string, args []string) error {
	run := a.run
	if run == nil {
		run = Execute
	}
	return run(ctx, Command{
		Dir:  a.buildDir,
		Name: name,
		Args: args,
		Env:  a.env,
	})
}

// Execute is the default Runner: it captures combined output and folds it
// into the returned error, keeping successful tool chatter out of the log.
func Execute(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		return &ExitError{
			Command: c.Name + " " + strings.Join(c.Args, " "),
			Output:  strings.TrimSpace(buf.String()),
			Err:     err,
		}
	}
	return nil
}

// Verbose returns a Runner that streams tool output to the terminal instead
// of capturing it.
func Verbose(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = mergeEnv(os.Environ(), c.Env)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &ExitError{
			Command: c.Name + " " + strings.Join(c.Args, " "),
			Err:     err,
		}
	}
	return nil
}

// ExitError carries the captured output of a failed invocation.
type ExitError struct {
	Command string
	Output  string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("%s: %v\n%s", e.Command, e.Err, e.Output)
}

func (e *ExitError) Unwrap() error { return e.Err }

// mergeEnv returns base with every key in overrides replaced or appended.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make([]string, len(base))
	copy(merged, base)
	idx := make(map[string]int, len(merged))
	for i, kv := range merged {
		if k, _, ok := strings.Cut(kv, "="); ok {
			idx[k] = i
		}
	}
	for k, v := range overrides {
		if i, ok := idx[k]; ok {
			merged[i] = k + "=" + v
		} else {
			merged = append(merged, k+"="+v)
		}
	}
	return merged
}
