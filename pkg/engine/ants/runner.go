package ants

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes one ANTs command-line tool and returns its standard output.
type Runner interface {
	Run(ctx context.Context, tool string, args ...string) ([]byte, error)
}

// ExecRunner runs the tools as child processes.
type ExecRunner struct {
	// BinDir is the directory holding the ANTs binaries. Empty means $PATH.
	BinDir string

	// Threads sets ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS when positive
	Threads int
}

// Run executes tool with args and returns its standard output. Standard
// error is folded into the returned error on failure.
func (r ExecRunner) Run(ctx context.Context, tool string, args ...string) ([]byte, error) {
	name := tool
	if r.BinDir != "" {
		name = filepath.Join(r.BinDir, tool)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()
	if r.Threads > 0 {
		cmd.Env = append(cmd.Env, fmt.Sprintf("ITK_GLOBAL_DEFAULT_NUMBER_OF_THREADS=%d", r.Threads))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, fmt.Errorf("%s: %w", tool, err)
		}
		return nil, fmt.Errorf("%s: %w: %s", tool, err, msg)
	}
	return stdout.Bytes(), nil
}
