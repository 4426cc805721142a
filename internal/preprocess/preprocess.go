// Package preprocess maps (pane, preprocessor, source) to compiled output or
// a pane-tagged compile error. Dispatch is a switch over the closed
// pen.Preprocessor enum; in-process transforms cover markdown, pug,
// typescript and babel, and the toolchain supplies the rest.
package preprocess

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/toolchain"
)

// UnknownErrorMessage is reported when a failure carries no message.
const UnknownErrorMessage = "Unknown compile error"

// Transformer is one source-to-source transform.
type Transformer interface {
	Transform(ctx context.Context, source string) (string, error)
}

// TransformerFunc adapts a function to Transformer.
type TransformerFunc func(ctx context.Context, source string) (string, error)

func (f TransformerFunc) Transform(ctx context.Context, source string) (string, error) {
	return f(ctx, source)
}

// Identity returns its input unchanged.
var Identity = TransformerFunc(func(_ context.Context, source string) (string, error) {
	return source, nil
})

// Output is the result of one pane transform. Err is nil on success.
type Output struct {
	Code string
	Err  *pen.CompileError
}

// Registry resolves every preprocessor to a transformer.
type Registry struct {
	markdown   Transformer
	pug        Transformer
	typescript Transformer
	babel      Transformer
	tools      *toolchain.Set
}

// NewRegistry returns the built-in transforms plus the external tools in set.
// A tool configured for a built-in preprocessor takes precedence.
func NewRegistry(set *toolchain.Set) *Registry {
	return &Registry{
		markdown:   Markdown(),
		pug:        Pug(),
		typescript: TypeScript(),
		babel:      Babel(),
		tools:      set,
	}
}

// Tools returns the external toolchain backing this registry.
func (r *Registry) Tools() *toolchain.Set {
	return r.tools
}

// Lookup returns the transformer for pre on pane p.
func (r *Registry) Lookup(p pen.Pane, pre pen.Preprocessor) (Transformer, error) {
	if pre == "" {
		pre = pen.None
	}
	if !p.Allows(pre) {
		return nil, fmt.Errorf("preprocessor %q is not available for %s", pre, p.Label())
	}
	if pre != pen.None {
		if t, ok := r.tools.Lookup(pre); ok {
			return t, nil
		}
	}

	switch pre {
	case pen.None:
		return Identity, nil
	case pen.Markdown:
		return r.markdown, nil
	case pen.Pug:
		return r.pug, nil
	case pen.TypeScript:
		return r.typescript, nil
	case pen.Babel:
		return r.babel, nil
	case pen.SCSS, pen.Less, pen.CoffeeScript:
		return nil, &toolchain.UnavailableError{Tool: string(pre), Err: errors.New("no backend configured")}
	}
	return nil, fmt.Errorf("unknown preprocessor %q", pre)
}

// Run transforms source for pane p. It never panics and never returns a Go
// error: every failure becomes Output.Err tagged with p.
func (r *Registry) Run(ctx context.Context, p pen.Pane, pre pen.Preprocessor, source string) (out Output) {
	defer func() {
		if v := recover(); v != nil {
			log.Printf("[Compile] %s preprocessor %q panicked: %v", p, pre, v)
			out = Output{Err: compileError(p, panicMessage(v))}
		}
	}()

	t, err := r.Lookup(p, pre)
	if err != nil {
		return Output{Err: compileError(p, err.Error())}
	}
	code, err := t.Transform(ctx, source)
	if err != nil {
		return Output{Err: compileError(p, err.Error())}
	}
	return Output{Code: code}
}

func compileError(p pen.Pane, msg string) *pen.CompileError {
	if msg == "" {
		msg = UnknownErrorMessage
	}
	return &pen.CompileError{Pane: p, Message: msg}
}

func panicMessage(v any) string {
	switch x := v.(type) {
	case error:
		return x.Error()
	case string:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return ""
}

var (
	initOnce sync.Once
	current  atomic.Pointer[Registry]
)

// EnsureInitialized installs the process-wide registry the first time it is
// called; later calls are no-ops. It returns the active registry.
func EnsureInitialized(set *toolchain.Set) *Registry {
	initOnce.Do(func() {
		current.Store(NewRegistry(set))
	})
	return current.Load()
}

// Default returns the process-wide registry, initializing it with built-ins
// and default tools if the host has not done so.
func Default() *Registry {
	if r := current.Load(); r != nil {
		return r
	}
	set, err := toolchain.Load(context.Background(), config.ToolchainConfig{}, "")
	if err != nil {
		log.Printf("[Toolchain] Failed to load default tools: %v", err)
	}
	return EnsureInitialized(set)
}

// Swap replaces the process-wide registry and returns the previous one.
func Swap(r *Registry) *Registry {
	initOnce.Do(func() {})
	return current.Swap(r)
}
