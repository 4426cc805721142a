package toolchain

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/pen"
)

// Hand-assembled WASI command modules. Each exports memory and _start.
var (
	// echoWasm reads one chunk of stdin (up to 4 KiB) and writes it to
	// stdout: fd_read(0, iov@0, 1, n@8) then fd_write(1, iov@0, 1, n@12)
	// with the iovec length set to the bytes read.
	echoWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		// types: (i32 i32 i32 i32) -> i32, () -> ()
		0x01, 0x0c, 0x02, 0x60, 0x04, 0x7f, 0x7f, 0x7f, 0x7f, 0x01, 0x7f, 0x60, 0x00, 0x00,
		// imports: wasi_snapshot_preview1.fd_read, fd_write
		0x02, 0x44, 0x02,
		0x16, 0x77, 0x61, 0x73, 0x69, 0x5f, 0x73, 0x6e, 0x61, 0x70, 0x73, 0x68, 0x6f, 0x74, 0x5f, 0x70, 0x72, 0x65, 0x76, 0x69, 0x65, 0x77, 0x31,
		0x07, 0x66, 0x64, 0x5f, 0x72, 0x65, 0x61, 0x64, 0x00, 0x00,
		0x16, 0x77, 0x61, 0x73, 0x69, 0x5f, 0x73, 0x6e, 0x61, 0x70, 0x73, 0x68, 0x6f, 0x74, 0x5f, 0x70, 0x72, 0x65, 0x76, 0x69, 0x65, 0x77, 0x31,
		0x08, 0x66, 0x64, 0x5f, 0x77, 0x72, 0x69, 0x74, 0x65, 0x00, 0x00,
		// functions, memory, exports
		0x03, 0x02, 0x01, 0x01,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x13, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x02,
		// code
		0x0a, 0x33, 0x01, 0x31, 0x00,
		0x41, 0x00, 0x41, 0x10, 0x36, 0x02, 0x00,
		0x41, 0x04, 0x41, 0x80, 0x20, 0x36, 0x02, 0x00,
		0x41, 0x00, 0x41, 0x00, 0x41, 0x01, 0x41, 0x08, 0x10, 0x00, 0x1a,
		0x41, 0x04, 0x41, 0x08, 0x28, 0x02, 0x00, 0x36, 0x02, 0x00,
		0x41, 0x01, 0x41, 0x00, 0x41, 0x01, 0x41, 0x0c, 0x10, 0x01, 0x1a,
		0x0b,
	}

	// trapWasm executes unreachable.
	trapWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
		0x02, 0x01, 0x00,
		0x03, 0x02, 0x01, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x13, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x00,
		0x0a, 0x05, 0x01, 0x03, 0x00, 0x00, 0x0b,
	}

	// exitWasm calls proc_exit(3).
	exitWasm = []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x08, 0x02, 0x60, 0x01, 0x7f, 0x00, 0x60, 0x00, 0x00,
		0x02, 0x24, 0x01,
		0x16, 0x77, 0x61, 0x73, 0x69, 0x5f, 0x73, 0x6e, 0x61, 0x70, 0x73, 0x68, 0x6f, 0x74, 0x5f, 0x70, 0x72, 0x65, 0x76, 0x69, 0x65, 0x77, 0x31,
		0x09, 0x70, 0x72, 0x6f, 0x63, 0x5f, 0x65, 0x78, 0x69, 0x74, 0x00, 0x00,
		0x03, 0x02, 0x01, 0x01,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x13, 0x02, 0x06, 0x6d, 0x65, 0x6d, 0x6f, 0x72, 0x79, 0x02, 0x00, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x01,
		0x0a, 0x08, 0x01, 0x06, 0x00, 0x41, 0x03, 0x10, 0x00, 0x0b,
	}
)

func writeWasm(t *testing.T, dir, name string, module []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), module, 0644))
}

func newWasm(t *testing.T, tool string, module []byte) *WasmTransformer {
	t.Helper()
	dir := t.TempDir()
	writeWasm(t, dir, tool+".wasm", module)
	tr, err := NewWasmTransformer(context.Background(), tool, tool+".wasm", dir, config.ToolConfig{Type: "wasm"})
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestWasmTransformerPipesStdin(t *testing.T) {
	tr := newWasm(t, "less", echoWasm)
	assert.Equal(t, "less", tr.Name())

	for _, src := range []string{"a { color: red; }", "@w: 10px;\n.b { width: @w; }"} {
		out, err := tr.Transform(context.Background(), src)
		require.NoError(t, err)
		assert.Equal(t, src, out)
	}
}

func TestWasmTransformerExitCodeIsUserError(t *testing.T) {
	tr := newWasm(t, "scss", exitWasm)

	_, err := tr.Transform(context.Background(), "a {")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.False(t, IsInfrastructure(err))
}

func TestWasmTrapOpensBreaker(t *testing.T) {
	tr := newWasm(t, "coffeescript", trapWasm)

	_, err := tr.Transform(context.Background(), "x = 1")
	require.Error(t, err)
	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.True(t, IsInfrastructure(err))

	b := NewBreaker("coffeescript", tr, BreakerConfig{FailureThreshold: 2, Timeout: time.Minute})
	for i := 0; i < 2; i++ {
		_, err := b.Transform(context.Background(), "x = 1")
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, b.State())

	_, err = b.Transform(context.Background(), "x = 1")
	var open *CircuitOpenError
	assert.True(t, errors.As(err, &open))
}

func TestLoadWasmTool(t *testing.T) {
	dir := t.TempDir()
	writeWasm(t, dir, "less.wasm", echoWasm)

	set, err := Load(context.Background(), config.ToolchainConfig{
		Tools: map[string]config.ToolConfig{"less": {Type: "wasm", Path: "less.wasm"}},
	}, dir)
	require.NoError(t, err)
	defer set.Close()

	tr, ok := set.Lookup(pen.Less)
	require.True(t, ok)
	assert.IsType(t, &WasmTransformer{}, tr.(*Breaker).Unwrap())

	out, err := tr.Transform(context.Background(), ".a { b: c }")
	require.NoError(t, err)
	assert.Equal(t, ".a { b: c }", out)
}

func TestNewWasmTransformerRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	writeWasm(t, dir, "bad.wasm", []byte("not wasm"))
	_, err := NewWasmTransformer(context.Background(), "less", "bad.wasm", dir, config.ToolConfig{})
	assert.ErrorContains(t, err, "failed to compile WASM module")
}
