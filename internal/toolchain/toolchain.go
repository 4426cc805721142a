package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sort"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/pen"
)

// DefaultCommands are the exec backends used when the config names none.
var DefaultCommands = map[pen.Preprocessor]string{
	pen.SCSS:         "sass --stdin --no-source-map --style=expanded",
	pen.Less:         "lessc --math=always -",
	pen.CoffeeScript: "coffee --bare --compile --stdio",
}

// Set is the external preprocessors of one configuration, each behind its
// own circuit breaker.
type Set struct {
	tools   map[pen.Preprocessor]Transformer
	closers []io.Closer
}

// Load builds the toolchain from cfg. Tools named in cfg replace the
// defaults; relative WASM paths resolve against baseDir.
func Load(ctx context.Context, cfg config.ToolchainConfig, baseDir string) (*Set, error) {
	s := &Set{tools: make(map[pen.Preprocessor]Transformer)}

	breakerCfg := DefaultBreakerConfig()
	breakerCfg.FailureThreshold = cfg.Circuit.GetFailureThreshold()
	breakerCfg.Timeout = cfg.Circuit.GetTimeout()

	for pre, cmdline := range DefaultCommands {
		t, err := NewExecTransformer(string(pre), cmdline, 0)
		if err != nil {
			return nil, err
		}
		s.tools[pre] = NewBreaker(string(pre), t, breakerCfg)
	}

	names := make([]string, 0, len(cfg.Tools))
	for name := range cfg.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tool := cfg.Tools[name]
		pre := pen.Preprocessor(name)
		if !known(pre) {
			s.Close()
			return nil, fmt.Errorf("toolchain: unknown preprocessor %q", name)
		}

		var t Transformer
		switch tool.Type {
		case "exec":
			et, err := NewExecTransformerWithConfig(name, tool)
			if err != nil {
				s.Close()
				return nil, err
			}
			t = et
		case "wasm":
			wt, err := NewWasmTransformer(ctx, name, tool.Path, baseDir, tool)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("toolchain %q: %w", name, err)
			}
			s.closers = append(s.closers, wt)
			t = wt
		default:
			s.Close()
			return nil, fmt.Errorf("toolchain %q: unknown type %q", name, tool.Type)
		}

		log.Printf("[Toolchain] %s -> %s backend", name, tool.Type)
		s.tools[pre] = NewBreaker(name, t, breakerCfg)
	}

	return s, nil
}

func known(pre pen.Preprocessor) bool {
	if pre == pen.None {
		return false
	}
	for _, p := range pen.Panes() {
		if p.Allows(pre) {
			return true
		}
	}
	return false
}

// Lookup returns the external backend for pre, if one is configured.
func (s *Set) Lookup(pre pen.Preprocessor) (Transformer, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.tools[pre]
	return t, ok
}

// Close releases WASM runtimes.
func (s *Set) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	s.closers = nil
	return errors.Join(errs...)
}
