// Package execcompiler is a minimal reference implementation of the
// Compiler port that shells out to an external puppet-compiler-style
// binary via os/exec, grounded on the subprocess-under-context pattern
// used by other fan-out orchestrators in the pack (RevCBH/choo's unit
// runner). It exists to exercise the port end-to-end; the real compiler
// binary and its flag surface remain an external collaborator
// (spec.md §1).
package execcompiler

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/wikimedia/puppet-compiler/pkg/compiler"
	"github.com/wikimedia/puppet-compiler/pkg/metrics"
)

// Config points at the external binary and fixed arguments every
// invocation needs.
type Config struct {
	BinaryPath string
	BaseTree   string
	ChangeTree string
}

// Compiler shells out to BinaryPath for each compile/version call.
type Compiler struct {
	cfg    Config
	logger logr.Logger
}

// New returns an execcompiler.Compiler.
func New(cfg Config, logger logr.Logger) *Compiler {
	return &Compiler{cfg: cfg, logger: logger}
}

// Compile runs the external binary against the appropriate tree
// (base or change) for host, waiting for completion or cancellation. A
// cancelled context kills the child process rather than leaking it.
func (c *Compiler) Compile(ctx context.Context, host string, label compiler.Label, vardir string, extraFlags []string) (compiler.Result, error) {
	start := time.Now()
	defer func() {
		metrics.CompileDuration.WithLabelValues(string(label)).Observe(time.Since(start).Seconds())
	}()

	tree := c.cfg.BaseTree
	if label == compiler.Change {
		tree = c.cfg.ChangeTree
	}

	args := append([]string{
		"--vardir", vardir,
		"--modulepath", filepath.Join(tree, "modules"),
		"--manifest", filepath.Join(tree, "manifests", "site.pp"),
		host,
	}, extraFlags...)

	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, args...)

	outPipe, err := cmd.StdoutPipe()
	if err != nil {
		return compiler.Result{}, fmt.Errorf("pipe stdout for %s/%s: %w", host, label, err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return compiler.Result{}, fmt.Errorf("start compile for %s/%s: %w", host, label, err)
	}

	var lines []string
	scanner := bufio.NewScanner(outPipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return compiler.Result{}, ctx.Err()
	}
	if err == nil {
		return compiler.Result{OK: true, ExitCode: 0, Output: lines}, nil
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return compiler.Result{}, fmt.Errorf("run compile for %s/%s: %w", host, label, err)
	}
	return compiler.Result{OK: false, ExitCode: exitErr.ExitCode(), Output: lines}, nil
}

// Version probes the external binary's --version output once.
func (c *Compiler) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.cfg.BinaryPath, "--version")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("probe compiler version: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
