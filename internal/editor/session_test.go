package editor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codezoo/codezoo/internal/autosave"
	"github.com/codezoo/codezoo/internal/compile"
	"github.com/codezoo/codezoo/internal/layout"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/pipeline"
	"github.com/codezoo/codezoo/internal/preprocess"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/store"
)

const (
	penA = "6f1c1f4e-9d7a-4d59-9a53-0f3b6c1f0a01"
	penB = "6f1c1f4e-9d7a-4d59-9a53-0f3b6c1f0a02"
)

type memPens struct {
	mu    sync.Mutex
	pens  map[string]pen.Pen
	saves []pen.RevisionInput
	fail  error
}

func newMemPens() *memPens {
	m := &memPens{pens: map[string]pen.Pen{}}
	for _, id := range []string{penA, penB} {
		m.pens[id] = pen.Pen{
			ID:    id,
			Title: "Pen " + id[len(id)-1:],
			LatestRevision: pen.Revision{
				RevNumber:     1,
				Kind:          pen.KindSnapshot,
				HTML:          "<p>" + id[len(id)-1:] + "</p>",
				Preprocessors: pen.DefaultSelection(),
				UpdatedAt:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			},
		}
	}
	return m
}

func (m *memPens) PenForEditor(_ context.Context, _, penID string) (pen.Pen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pens[penID]
	if !ok {
		return pen.Pen{}, store.ErrNotFound
	}
	return p, nil
}

func (m *memPens) SaveRevision(_ context.Context, _ string, in pen.RevisionInput) (pen.Pen, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves = append(m.saves, in)
	if m.fail != nil {
		return pen.Pen{}, m.fail
	}
	p := m.pens[in.PenID]
	p.LatestRevision = pen.Revision{
		RevNumber:     p.LatestRevision.RevNumber + 1,
		Kind:          in.Kind,
		HTML:          in.HTML,
		CSS:           in.CSS,
		JS:            in.JS,
		Preprocessors: in.Preprocessors,
		UpdatedAt:     p.LatestRevision.UpdatedAt.Add(time.Minute),
	}
	m.pens[in.PenID] = p
	return p, nil
}

func (m *memPens) savedInputs() []pen.RevisionInput {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pen.RevisionInput(nil), m.saves...)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	// hook runs on the sending goroutine before e is recorded.
	hook func(Event)
}

func (r *recorder) Send(e Event) {
	r.mu.Lock()
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(e)
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) setHook(fn func(Event)) {
	r.mu.Lock()
	r.hook = fn
	r.mu.Unlock()
}

func (r *recorder) of(t EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) last(t EventType) (Event, bool) {
	evs := r.of(t)
	if len(evs) == 0 {
		return Event{}, false
	}
	return evs[len(evs)-1], true
}

type fixture struct {
	session  *Session
	sched    *pipeline.ManualScheduler
	pens     *memPens
	sink     *recorder
	previews *preview.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched:    pipeline.NewManualScheduler(),
		pens:     newMemPens(),
		sink:     &recorder{},
		previews: preview.NewRegistry(time.Hour),
	}
	t.Cleanup(f.previews.Stop)
	f.session = New(context.Background(), Options{
		UserID:    "user-1",
		Compiler:  compile.New(compile.Options{Runner: preprocess.NewRegistry(nil)}),
		Loader:    f.pens,
		Saver:     f.pens,
		Sink:      f.sink,
		Previews:  f.previews,
		Scheduler: f.sched,
	})
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) open(t *testing.T, id string) {
	t.Helper()
	_, err := f.session.Open(context.Background(), id)
	require.NoError(t, err)
	f.session.Wait()
}

func previewDoc(t *testing.T, r *recorder) string {
	t.Helper()
	e, ok := r.last(EventPreview)
	require.True(t, ok, "no preview event")
	return e.Data.(PreviewPayload).Document
}

func TestOpenLoadsAndCompiles(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	loaded, ok := f.sink.last(EventLoaded)
	require.True(t, ok)
	assert.Equal(t, penA, loaded.Data.(pen.Pen).ID)

	_, ok = f.sink.last(EventLayout)
	assert.True(t, ok)

	assert.Contains(t, previewDoc(t, f.sink), "<p>1</p>")

	entry, ok := f.previews.Get("user-1", penA)
	require.True(t, ok)
	assert.Contains(t, entry.Document, "<p>1</p>")

	st, ok := f.sink.last(EventSaveStatus)
	require.True(t, ok)
	assert.Equal(t, autosave.Idle, st.Data.(autosave.Status).State)
}

func TestOpenUnknownPen(t *testing.T) {
	f := newFixture(t)
	_, err := f.session.Open(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, ok := f.session.Current()
	assert.False(t, ok)
}

func TestCommandsNeedOpenPen(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.session.Edit(pen.Markup, "x"), ErrNoPen)
	assert.ErrorIs(t, f.session.SetPreprocessors(pen.DefaultSelection()), ErrNoPen)
	assert.False(t, f.session.Save(pen.SaveManual))
}

func TestEditIsDebounced(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)
	before := len(f.sink.of(EventPreview))

	require.NoError(t, f.session.Edit(pen.Markup, "<h1>new</h1>"))

	code, ok := f.sink.last(EventCodeChanged)
	require.True(t, ok, "code change is reported synchronously")
	assert.Equal(t, "<h1>new</h1>", code.Data.(pen.Sources).HTML)
	assert.Len(t, f.sink.of(EventPreview), before)

	f.sched.Advance(pipeline.DefaultDebounce)
	f.session.Wait()

	assert.Contains(t, previewDoc(t, f.sink), "<h1>new</h1>")
	assert.Equal(t, autosave.Dirty, f.session.SaveStatus().State)
}

func TestCompileErrorKeepsLastGood(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	require.NoError(t, f.session.SetPreprocessors(pen.Selection{JS: pen.TypeScript}))
	require.NoError(t, f.session.Edit(pen.Script, "let x: = ;"))
	f.sched.Advance(pipeline.DefaultDebounce)
	f.session.Wait()

	errs, ok := f.sink.last(EventCompileErrors)
	require.True(t, ok)
	list := errs.Data.([]pen.CompileError)
	require.Len(t, list, 1)
	assert.Equal(t, pen.Script, list[0].Pane)
	assert.Contains(t, previewDoc(t, f.sink), "<p>1</p>", "last good preview is kept")

	require.NoError(t, f.session.Edit(pen.Script, "let x: number = 1"))
	f.sched.Advance(pipeline.DefaultDebounce)
	f.session.Wait()

	errs, _ = f.sink.last(EventCompileErrors)
	assert.Empty(t, errs.Data.([]pen.CompileError))
}

func TestInvalidPreprocessorRejected(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)
	assert.Error(t, f.session.SetPreprocessors(pen.Selection{HTML: pen.SCSS}))
}

func TestAutosaveAfterIdle(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	require.NoError(t, f.session.Edit(pen.Style, "p{}"))
	f.sched.Advance(autosave.DefaultDelay)
	f.session.Wait()

	saves := f.pens.savedInputs()
	require.Len(t, saves, 1)
	assert.Equal(t, pen.KindAutosave, saves[0].Kind)
	assert.Equal(t, "p{}", saves[0].CSS)
	assert.Equal(t, "<p>1</p>", saves[0].HTML)

	saved, ok := f.sink.last(EventSaved)
	require.True(t, ok)
	assert.Equal(t, 2, saved.Data.(pen.Pen).LatestRevision.RevNumber)

	cur, _ := f.session.Current()
	assert.Equal(t, 2, cur.LatestRevision.RevNumber)
	assert.Equal(t, autosave.Idle, f.session.SaveStatus().State)
}

func TestManualSave(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	assert.False(t, f.session.Save(pen.SaveManual), "nothing to save yet")

	require.NoError(t, f.session.Edit(pen.Script, "run()"))
	require.True(t, f.session.Save(pen.SaveManual))

	saves := f.pens.savedInputs()
	require.Len(t, saves, 1)
	assert.Equal(t, pen.KindSnapshot, saves[0].Kind)

	f.sched.Advance(time.Minute)
	assert.Len(t, f.pens.savedInputs(), 1, "manual save cancels the autosave timer")
}

func TestSaveFailureStatus(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)
	f.pens.fail = errors.New("disk full")

	require.NoError(t, f.session.Edit(pen.Markup, "x"))
	f.session.Save(pen.SaveManual)

	st, ok := f.sink.last(EventSaveStatus)
	require.True(t, ok)
	assert.Equal(t, autosave.MsgManualFailed, st.Data.(autosave.Status).Text)
}

func TestOpenAnotherPenDiscardsPending(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	require.NoError(t, f.session.Edit(pen.Markup, "<b>unsaved</b>"))
	f.open(t, penB)

	f.sched.Advance(time.Minute)
	f.session.Wait()

	assert.Empty(t, f.pens.savedInputs())
	assert.Equal(t, "<p>2</p>", f.session.Sources().HTML)
	assert.Contains(t, previewDoc(t, f.sink), "<p>2</p>")
}

func TestSaveRacingPenSwitchWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)
	require.NoError(t, f.session.Edit(pen.Markup, "<p>edited A</p>"))

	saving := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.sink.setHook(func(e Event) {
		if e.Type != EventSaveStatus || e.Data.(autosave.Status).State != autosave.Saving {
			return
		}
		once.Do(func() {
			close(saving)
			<-release
		})
	})

	done := make(chan bool)
	go func() { done <- f.session.Save(pen.SaveManual) }()

	<-saving
	_, err := f.session.Open(context.Background(), penB)
	require.NoError(t, err)
	close(release)

	select {
	case started := <-done:
		assert.True(t, started)
	case <-time.After(5 * time.Second):
		t.Fatal("save did not return")
	}
	f.session.Wait()

	assert.Empty(t, f.pens.savedInputs(), "a save begun on one pen must not write to the next")
	_, ok := f.sink.last(EventSaved)
	assert.False(t, ok)

	p, err := f.pens.PenForEditor(context.Background(), "user-1", penB)
	require.NoError(t, err)
	assert.Equal(t, 1, p.LatestRevision.RevNumber)
	assert.Equal(t, autosave.Idle, f.session.SaveStatus().State)
}

func TestLayoutCommands(t *testing.T) {
	f := newFixture(t)
	f.open(t, penA)

	require.NoError(t, f.session.TogglePane(pen.Style))
	snap := f.session.Layout()
	assert.Equal(t, []pen.Pane{pen.Markup, pen.Script}, snap.Visible)

	f.session.ToggleSplit()
	assert.Equal(t, layout.Vertical, f.session.Layout().Split)

	require.True(t, f.session.BeginResize(0, 100))
	f.session.MoveResize(150, 1000)
	f.session.EndResize()
	snap = f.session.Layout()
	assert.Nil(t, snap.Dragging)

	ev, ok := f.sink.last(EventLayout)
	require.True(t, ok)
	assert.Equal(t, snap, ev.Data.(layout.Snapshot))

	assert.False(t, f.session.BeginResize(5, 0))
	assert.Error(t, f.session.TogglePane("nope"))
}
