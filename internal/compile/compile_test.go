package compile

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codezoo/codezoo/internal/cache"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preprocess"
)

// braceRunner passes sources through but rejects style source with
// unbalanced braces, like a real SCSS compiler would.
type braceRunner struct {
	calls atomic.Int32
}

func (r *braceRunner) Run(_ context.Context, p pen.Pane, _ pen.Preprocessor, source string) preprocess.Output {
	r.calls.Add(1)
	if p == pen.Style && strings.Count(source, "{") != strings.Count(source, "}") {
		return preprocess.Output{Err: &pen.CompileError{Pane: p, Message: "expected \"}\""}}
	}
	return preprocess.Output{Code: source}
}

func TestPassThroughIsIdempotent(t *testing.T) {
	o := New(Options{Runner: preprocess.NewRegistry(nil)})
	src := pen.Sources{HTML: "<b>hi</b>", CSS: "b{color:red}", JS: ""}

	first, err := o.Compile(context.Background(), src, pen.DefaultSelection())
	require.NoError(t, err)
	second, err := o.Compile(context.Background(), src, pen.DefaultSelection())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.OK())
	assert.Equal(t, "<b>hi</b>", first.HTML)
	assert.Equal(t, "b{color:red}", first.CSS)
	assert.Equal(t, "", first.JS)
}

func TestStyleFailureIsIsolated(t *testing.T) {
	o := New(Options{Runner: &braceRunner{}})
	src := pen.Sources{HTML: "<p>ok</p>", CSS: "p { color: red", JS: "console.log(1)"}

	res, err := o.Compile(context.Background(), src, pen.DefaultSelection())
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Equal(t, pen.Style, res.Errors[0].Pane)
	assert.Equal(t, "<p>ok</p>", res.HTML)
	assert.Equal(t, "", res.CSS, "failed pane has empty output")
	assert.Equal(t, "console.log(1)", res.JS)
}

func TestErrorOrderIsDeterministic(t *testing.T) {
	runner := runnerFunc(func(_ context.Context, p pen.Pane, _ pen.Preprocessor, _ string) preprocess.Output {
		// Finish in reverse order to make sure ordering is not completion order.
		time.Sleep(time.Duration(3-p.Index()) * 5 * time.Millisecond)
		return preprocess.Output{Err: &pen.CompileError{Pane: p, Message: "bad"}}
	})
	o := New(Options{Runner: runner})

	res, err := o.Compile(context.Background(), pen.Sources{}, pen.DefaultSelection())
	require.NoError(t, err)

	require.Len(t, res.Errors, 3)
	assert.Equal(t, pen.Markup, res.Errors[0].Pane)
	assert.Equal(t, pen.Style, res.Errors[1].Pane)
	assert.Equal(t, pen.Script, res.Errors[2].Pane)
}

func TestPanesRunInParallel(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	runner := runnerFunc(func(_ context.Context, _ pen.Pane, _ pen.Preprocessor, s string) preprocess.Output {
		wg.Done()
		wg.Wait() // deadlocks unless all three panes run at once
		return preprocess.Output{Code: s}
	})
	o := New(Options{Runner: runner})

	done := make(chan struct{})
	go func() {
		_, _ = o.Compile(context.Background(), pen.Sources{HTML: "a"}, pen.DefaultSelection())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("panes did not compile concurrently")
	}
}

func TestSelectionDefaultsToNone(t *testing.T) {
	var seen []pen.Preprocessor
	var mu sync.Mutex
	runner := runnerFunc(func(_ context.Context, _ pen.Pane, pre pen.Preprocessor, s string) preprocess.Output {
		mu.Lock()
		seen = append(seen, pre)
		mu.Unlock()
		return preprocess.Output{Code: s}
	})
	o := New(Options{Runner: runner})

	_, err := o.Compile(context.Background(), pen.Sources{}, pen.Selection{CSS: pen.SCSS})
	require.NoError(t, err)

	assert.ElementsMatch(t, []pen.Preprocessor{pen.None, pen.SCSS, pen.None}, seen)
}

func TestCancelledContext(t *testing.T) {
	o := New(Options{Runner: &braceRunner{}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Compile(ctx, pen.Sources{}, pen.DefaultSelection())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCacheOnlyStoresSuccess(t *testing.T) {
	runner := &braceRunner{}
	c := cache.NewMemoryCache(10)
	defer c.Stop()
	o := New(Options{Runner: runner, Cache: c})

	good := pen.Sources{HTML: "x", CSS: "a{}"}
	_, _ = o.Compile(context.Background(), good, pen.DefaultSelection())
	_, _ = o.Compile(context.Background(), good, pen.DefaultSelection())
	assert.EqualValues(t, 3, runner.calls.Load(), "second compile is served from cache")

	bad := pen.Sources{CSS: "a{"}
	_, _ = o.Compile(context.Background(), bad, pen.DefaultSelection())
	_, _ = o.Compile(context.Background(), bad, pen.DefaultSelection())
	assert.EqualValues(t, 9, runner.calls.Load(), "failed results are not cached")
	assert.Equal(t, 1, c.Len())
}

func TestMarkdownScenario(t *testing.T) {
	o := New(Options{Runner: preprocess.NewRegistry(nil)})
	sel := pen.DefaultSelection()
	sel.Set(pen.Markup, pen.Markdown)

	res, err := o.Compile(context.Background(), pen.Sources{HTML: "# Hi"}, sel)
	require.NoError(t, err)
	assert.Contains(t, res.HTML, "<h1>Hi</h1>")
}

type runnerFunc func(ctx context.Context, p pen.Pane, pre pen.Preprocessor, source string) preprocess.Output

func (f runnerFunc) Run(ctx context.Context, p pen.Pane, pre pen.Preprocessor, source string) preprocess.Output {
	return f(ctx, p, pre, source)
}
