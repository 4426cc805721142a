package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/codezoo/codezoo/internal/config"
)

// ExecTransformer pipes source through an external command.
type ExecTransformer struct {
	tool    string
	cmd     string
	args    []string
	env     map[string]string
	timeout time.Duration
}

// NewExecTransformer creates a transformer that runs cmdline with the source
// on stdin. The command line is split on whitespace.
func NewExecTransformer(tool, cmdline string, timeout time.Duration) (*ExecTransformer, error) {
	parts := strings.Fields(cmdline)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%s preprocessor: empty command", tool)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExecTransformer{
		tool:    tool,
		cmd:     parts[0],
		args:    parts[1:],
		timeout: timeout,
	}, nil
}

// NewExecTransformerWithConfig creates an exec transformer from config
func NewExecTransformerWithConfig(tool string, cfg config.ToolConfig) (*ExecTransformer, error) {
	t, err := NewExecTransformer(tool, cfg.Cmd, cfg.GetTimeout())
	if err != nil {
		return nil, err
	}
	t.env = cfg.GetEnv()
	return t, nil
}

// Name returns the preprocessor this command serves
func (t *ExecTransformer) Name() string {
	return t.tool
}

// Transform runs the command on source and returns its stdout.
func (t *ExecTransformer) Transform(ctx context.Context, source string) (string, error) {
	if !config.IsExecAllowed() {
		return "", &UnavailableError{Tool: t.tool, Err: errors.New("external commands are disabled")}
	}

	cmdCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, t.cmd, t.args...)
	cmd.Stdin = strings.NewReader(source)
	cmd.Env = os.Environ()
	for k, v := range t.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) {
		return "", &TimeoutError{Tool: t.tool, Duration: t.timeout.String()}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return "", &CommandError{
			Tool:     t.tool,
			ExitCode: exitErr.ExitCode(),
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
		}
	}
	return "", &UnavailableError{Tool: t.tool, Err: err}
}
