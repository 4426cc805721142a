// Package compile runs the three pane transforms of a pen concurrently and
// folds them into one pen.Result.
package compile

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/codezoo/codezoo/internal/cache"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preprocess"
)

// Runner transforms one pane. preprocess.Registry is the production Runner.
type Runner interface {
	Run(ctx context.Context, p pen.Pane, pre pen.Preprocessor, source string) preprocess.Output
}

// Options configures an Orchestrator.
type Options struct {
	// Runner overrides the process-wide preprocess registry.
	Runner Runner
	// Cache stores fully successful results. Nil disables caching.
	Cache    cache.Cache
	CacheTTL time.Duration
	Debug    bool
}

// Orchestrator is stateless per call and safe for concurrent use.
type Orchestrator struct {
	runner   Runner
	cache    cache.Cache
	cacheTTL time.Duration
	debug    bool
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	return &Orchestrator{
		runner:   opts.Runner,
		cache:    opts.Cache,
		cacheTTL: opts.CacheTTL,
		debug:    opts.Debug,
	}
}

func (o *Orchestrator) currentRunner() Runner {
	if o.runner != nil {
		return o.runner
	}
	return preprocess.Default()
}

// Compile transforms all three panes in parallel. A failing pane never
// affects the others: its output is empty and its error is listed, in
// markup, style, script order. The returned error is non-nil only when ctx
// ends before the compile finishes.
func (o *Orchestrator) Compile(ctx context.Context, src pen.Sources, sel pen.Selection) (pen.Result, error) {
	sel = sel.Normalize()

	var key string
	if o.cache != nil {
		key = cache.Key(src, sel)
		if res, ok := o.cache.Get(key); ok {
			return res, nil
		}
	}

	start := time.Now()
	runner := o.currentRunner()
	panes := pen.Panes()
	outs := make([]preprocess.Output, len(panes))

	// Goroutines never return errors, so one pane cannot cancel another.
	var g errgroup.Group
	for i, p := range panes {
		g.Go(func() error {
			outs[i] = runner.Run(ctx, p, sel.Get(p), src.Get(p))
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return pen.Result{}, err
	}

	var res pen.Result
	for i, p := range panes {
		if outs[i].Err != nil {
			res.Errors = append(res.Errors, *outs[i].Err)
			continue
		}
		res.SetOutput(p, outs[i].Code)
	}

	if o.debug {
		log.Printf("[Compile] %d error(s) in %v", len(res.Errors), time.Since(start))
	}
	if o.cache != nil && res.OK() {
		o.cache.Set(key, res, o.cacheTTL)
	}
	return res, nil
}
