package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/codezoo/codezoo/internal/config"
)

// WasmTransformer runs a WASI command module as a preprocessor. The module
// reads source from stdin, writes the result to stdout and reports problems
// on stderr with a non-zero exit code.
//
// The module is compiled once; every call gets a fresh anonymous instance so
// calls can run concurrently and never share memory.
type WasmTransformer struct {
	tool     string
	wasmPath string
	args     []string
	env      map[string]string
	timeout  time.Duration
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
}

// NewWasmTransformer compiles the module at path. Relative paths resolve
// against baseDir.
func NewWasmTransformer(ctx context.Context, tool, path, baseDir string, cfg config.ToolConfig) (*WasmTransformer, error) {
	wasmPath := path
	if !filepath.IsAbs(wasmPath) {
		wasmPath = filepath.Join(baseDir, path)
	}

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM file %s: %w", wasmPath, err)
	}

	// Deadlines on ctx must be able to stop a runaway module.
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	return &WasmTransformer{
		tool:     tool,
		wasmPath: wasmPath,
		args:     cfg.Args,
		env:      cfg.GetEnv(),
		timeout:  cfg.GetTimeout(),
		runtime:  r,
		compiled: compiled,
	}, nil
}

// Name returns the preprocessor this module serves
func (t *WasmTransformer) Name() string {
	return t.tool
}

// Transform instantiates the module with source on stdin and returns stdout.
func (t *WasmTransformer) Transform(ctx context.Context, source string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithStdin(strings.NewReader(source)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(append([]string{t.tool}, t.args...)...)
	for k, v := range t.env {
		moduleConfig = moduleConfig.WithEnv(k, v)
	}

	mod, err := t.runtime.InstantiateModule(runCtx, t.compiled, moduleConfig)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err == nil {
		return stdout.String(), nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		switch {
		case exitErr.ExitCode() == 0:
			return stdout.String(), nil
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			return "", &TimeoutError{Tool: t.tool, Duration: t.timeout.String()}
		}
		return "", &CommandError{
			Tool:     t.tool,
			ExitCode: int(exitErr.ExitCode()),
			Stderr:   stderr.String(),
			Stdout:   stdout.String(),
		}
	}
	return "", &UnavailableError{Tool: t.tool, Err: fmt.Errorf("WASM run failed [%s]: %w", t.wasmPath, err)}
}

// Close releases the runtime and the compiled module
func (t *WasmTransformer) Close() error {
	return t.runtime.Close(context.Background())
}
