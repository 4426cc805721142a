// Package pipeline turns keystroke-level pane edits into debounced compiles.
//
// Every edit lands in the Buffer immediately and restarts one debounce timer
// shared by all panes. When the timer fires the current snapshot is compiled
// in the background. Results are tagged with a sequence number and only
// applied if nothing newer has been applied already, so a slow compile can
// never overwrite a faster later one. A compile with errors leaves the
// last-good preview in place for all three panes.
package pipeline

import (
	"context"
	"errors"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/codezoo/codezoo/internal/pen"
)

// DefaultDebounce is the quiet period before an edit is compiled.
const DefaultDebounce = 350 * time.Millisecond

// Compiler compiles all three panes at once.
type Compiler interface {
	Compile(ctx context.Context, src pen.Sources, sel pen.Selection) (pen.Result, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(ctx context.Context, src pen.Sources, sel pen.Selection) (pen.Result, error)

func (f CompilerFunc) Compile(ctx context.Context, src pen.Sources, sel pen.Selection) (pen.Result, error) {
	return f(ctx, src, sel)
}

// Preview is a compiled payload ready to render.
type Preview struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
	Seq  uint64 `json:"seq"`
}

// Callbacks are invoked with the pipeline's lock held and must not call back
// into the Pipeline.
type Callbacks struct {
	// OnCodeChange fires synchronously on every edit, before any debounce.
	OnCodeChange func(pen.Sources)
	// OnErrors fires when the aggregated error set changes.
	OnErrors func([]pen.CompileError)
	// OnPreview fires when a compile succeeds and becomes the last-good preview.
	OnPreview func(Preview)
}

// Options configures a Pipeline.
type Options struct {
	Debounce  time.Duration
	Scheduler Scheduler
	Callbacks Callbacks
	Debug     bool
}

// Pipeline is the debounced compile loop of one editing session.
type Pipeline struct {
	mu        sync.Mutex
	base      context.Context
	compiler  Compiler
	scheduler Scheduler
	debounce  time.Duration
	cb        Callbacks
	debug     bool

	buf        *Buffer
	selection  pen.Selection
	key        string
	generation uint64
	seq        uint64
	applied    uint64
	timer      Handle
	cancel     context.CancelFunc
	ctx        context.Context
	lastGood   *Preview
	errors     []pen.CompileError
	closed     bool

	inflight sync.WaitGroup
}

// New returns an idle pipeline. Nothing compiles until Load.
func New(ctx context.Context, compiler Compiler, opts Options) *Pipeline {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewTimerScheduler()
	}
	p := &Pipeline{
		base:      ctx,
		compiler:  compiler,
		scheduler: opts.Scheduler,
		debounce:  opts.Debounce,
		cb:        opts.Callbacks,
		debug:     opts.Debug,
		buf:       NewBuffer(pen.Sources{}),
		selection: pen.DefaultSelection(),
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	return p
}

// Load resets the pipeline for a new pen: pending timers and in-flight
// compiles of the previous pen are discarded, the last-good preview is
// cleared and the new sources compile immediately.
func (p *Pipeline) Load(key string, src pen.Sources, sel pen.Selection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.resetLocked()
	p.key = key
	p.buf.Replace(src)
	p.selection = sel.Normalize()
	p.lastGood = nil
	p.setErrorsLocked(nil)
	p.startLocked()
}

// OnEdit stores a pane's new text, reports the change and restarts the
// debounce timer.
func (p *Pipeline) OnEdit(pane pen.Pane, source string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !pane.Valid() {
		return
	}

	p.buf.Set(pane, source)
	if p.cb.OnCodeChange != nil {
		p.cb.OnCodeChange(p.buf.Snapshot())
	}
	p.scheduleLocked()
}

// SetPreprocessors changes the selection and restarts the debounce timer.
func (p *Pipeline) SetPreprocessors(sel pen.Selection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.selection = sel.Normalize()
	p.scheduleLocked()
}

// Flush cancels the pending debounce and compiles the current snapshot now.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.scheduler.Cancel(p.timer)
	p.timer = 0
	p.startLocked()
}

// Wait blocks until every compile started so far has finished.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}

// Close stops the pipeline. Pending and in-flight work is discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.resetLocked()
	}
	p.mu.Unlock()
	p.inflight.Wait()
}

// Key returns the identifier passed to the last Load.
func (p *Pipeline) Key() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.key
}

// Sources returns the current pane text.
func (p *Pipeline) Sources() pen.Sources {
	return p.buf.Snapshot()
}

// Selection returns the current preprocessor selection.
func (p *Pipeline) Selection() pen.Selection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.selection
}

// LastGood returns the most recent successful preview.
func (p *Pipeline) LastGood() (Preview, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lastGood == nil {
		return Preview{}, false
	}
	return *p.lastGood, true
}

// Errors returns the error set of the latest applied compile.
func (p *Pipeline) Errors() []pen.CompileError {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.errors)
}

func (p *Pipeline) resetLocked() {
	p.generation++
	p.scheduler.Cancel(p.timer)
	p.timer = 0
	p.cancel()
	p.ctx, p.cancel = context.WithCancel(p.base)
	p.seq = 0
	p.applied = 0
}

func (p *Pipeline) scheduleLocked() {
	p.scheduler.Cancel(p.timer)
	gen := p.generation
	var h Handle
	// fire takes p.mu, which is held here, so h is set before it reads it.
	h = p.scheduler.Schedule(p.debounce, func() { p.fire(gen, h) })
	p.timer = h
}

// fire runs when timer h elapses. A timer that was already firing when a
// later edit replaced it is ignored.
func (p *Pipeline) fire(gen uint64, h Handle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.generation || h != p.timer {
		return
	}
	p.timer = 0
	p.startLocked()
}

func (p *Pipeline) startLocked() {
	p.seq++
	seq, gen, ctx := p.seq, p.generation, p.ctx
	src, sel := p.buf.Snapshot(), p.selection

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		res, err := p.compiler.Compile(ctx, src, sel)
		p.apply(gen, seq, res, err)
	}()
}

func (p *Pipeline) apply(gen, seq uint64, res pen.Result, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.generation || seq <= p.applied {
		if p.debug {
			log.Printf("[Pipeline] Discarding compile %d (generation %d, applied %d)", seq, gen, p.applied)
		}
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	p.applied = seq

	errs := res.Errors
	if err != nil {
		errs = []pen.CompileError{{Pane: pen.Markup, Message: "Compile failed: " + err.Error()}}
	}

	if len(errs) == 0 {
		p.lastGood = &Preview{HTML: res.HTML, CSS: res.CSS, JS: res.JS, Seq: seq}
		if p.cb.OnPreview != nil {
			p.cb.OnPreview(*p.lastGood)
		}
	}
	p.setErrorsLocked(errs)
}

func (p *Pipeline) setErrorsLocked(errs []pen.CompileError) {
	if len(errs) == 0 {
		errs = nil
	}
	if slices.Equal(p.errors, errs) {
		return
	}
	p.errors = slices.Clone(errs)
	if p.cb.OnErrors != nil {
		p.cb.OnErrors(slices.Clone(errs))
	}
}
