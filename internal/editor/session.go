// Package editor binds the layout engine, the compile pipeline and the save
// machine into one editing session per connected client.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codezoo/codezoo/internal/autosave"
	"github.com/codezoo/codezoo/internal/layout"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/pipeline"
	"github.com/codezoo/codezoo/internal/preview"
)

// ErrNoPen is returned by commands that need an open pen.
var ErrNoPen = errors.New("no pen is open")

// Loader fetches a pen for its owner.
type Loader interface {
	PenForEditor(ctx context.Context, ownerID, penID string) (pen.Pen, error)
}

// Saver persists a new revision and returns the updated pen.
type Saver interface {
	SaveRevision(ctx context.Context, authorID string, in pen.RevisionInput) (pen.Pen, error)
}

// Options configures a Session.
type Options struct {
	UserID   string
	Compiler pipeline.Compiler
	Loader   Loader
	Saver    Saver
	Sink     Sink
	// Previews receives every successful preview document. Optional.
	Previews *preview.Registry

	Split          layout.Orientation
	MinPanePercent float64
	Debounce       time.Duration
	AutosaveDelay  time.Duration
	// Scheduler drives both the compile debounce and the autosave timer.
	Scheduler pipeline.Scheduler
	Debug     bool
}

// Session is one client's editor. Commands are serialized.
type Session struct {
	mu     sync.Mutex
	ctx    context.Context
	userID string
	loader Loader
	saver  Saver
	sink   Sink
	debug  bool

	previews *preview.Registry
	layout   *layout.Engine
	pipe     *pipeline.Pipeline
	save     *autosave.Machine

	current *pen.Pen
	penID   atomic.Value // string; read from pipeline callbacks
}

// New creates a session with no pen open.
func New(ctx context.Context, opts Options) *Session {
	if opts.Sink == nil {
		opts.Sink = SinkFunc(func(Event) {})
	}
	if opts.Scheduler == nil {
		opts.Scheduler = pipeline.NewTimerScheduler()
	}
	s := &Session{
		ctx:      ctx,
		userID:   opts.UserID,
		loader:   opts.Loader,
		saver:    opts.Saver,
		sink:     opts.Sink,
		debug:    opts.Debug,
		previews: opts.Previews,
		layout:   layout.New(opts.Split, opts.MinPanePercent),
	}
	s.penID.Store("")

	s.pipe = pipeline.New(ctx, opts.Compiler, pipeline.Options{
		Debounce:  opts.Debounce,
		Scheduler: opts.Scheduler,
		Debug:     opts.Debug,
		Callbacks: pipeline.Callbacks{
			OnCodeChange: func(src pen.Sources) { s.emit(EventCodeChanged, src) },
			OnErrors:     func(errs []pen.CompileError) { s.emit(EventCompileErrors, errorList(errs)) },
			OnPreview:    s.onPreview,
		},
	})
	s.save = autosave.New(ctx, autosave.Options{
		Delay:     opts.AutosaveDelay,
		Scheduler: opts.Scheduler,
		Save:      s.persist,
		OnStatus:  func(st autosave.Status) { s.emit(EventSaveStatus, st) },
		Debug:     opts.Debug,
	})
	return s
}

func errorList(errs []pen.CompileError) []pen.CompileError {
	if errs == nil {
		return []pen.CompileError{}
	}
	return errs
}

func (s *Session) emit(t EventType, data any) {
	s.sink.Send(Event{Type: t, Data: data})
}

func (s *Session) onPreview(p pipeline.Preview) {
	doc := preview.Document(p.HTML, p.CSS, p.JS)
	payload := PreviewPayload{Document: doc, Seq: p.Seq, Sandbox: preview.SandboxAttr}
	if s.previews != nil {
		if id := s.penID.Load().(string); id != "" {
			payload.Version = s.previews.Put(s.userID, id, doc)
		}
	}
	s.emit(EventPreview, payload)
}

// Open loads a pen and makes it the session's pen. Timers and compiles of
// the previous pen are discarded, the layout is reset and the pen compiles
// immediately.
func (s *Session) Open(ctx context.Context, penID string) (pen.Pen, error) {
	p, err := s.loader.PenForEditor(ctx, s.userID, penID)
	if err != nil {
		return pen.Pen{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = &p
	s.penID.Store(p.ID)
	s.layout.Reset()
	s.save.Reset(p.LatestRevision.UpdatedAt)
	s.pipe.Load(p.ID, p.LatestRevision.Sources(), p.LatestRevision.Preprocessors)

	if s.debug {
		log.Printf("[Editor] Opened pen %s (rev %d) for user %s", p.ID, p.LatestRevision.RevNumber, s.userID)
	}
	s.emit(EventLoaded, p)
	s.emit(EventLayout, s.layout.Snapshot())
	return p, nil
}

// Current returns the open pen as last loaded or saved.
func (s *Session) Current() (pen.Pen, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return pen.Pen{}, false
	}
	return *s.current, true
}

// Edit replaces one pane's source.
func (s *Session) Edit(pane pen.Pane, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoPen
	}
	if !pane.Valid() {
		return fmt.Errorf("unknown pane %q", pane)
	}
	s.pipe.OnEdit(pane, source)
	s.save.MarkDirty()
	return nil
}

// SetPreprocessors changes the preprocessor selection.
func (s *Session) SetPreprocessors(sel pen.Selection) error {
	sel = sel.Normalize()
	if err := sel.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNoPen
	}
	s.pipe.SetPreprocessors(sel)
	s.save.MarkDirty()
	return nil
}

// Sources returns the current pane text.
func (s *Session) Sources() pen.Sources {
	return s.pipe.Sources()
}

// Selection returns the current preprocessor selection.
func (s *Session) Selection() pen.Selection {
	return s.pipe.Selection()
}

// Save persists the current sources. It returns false when there was
// nothing to save or a save is already running. It blocks until the save
// finishes.
func (s *Session) Save(mode pen.SaveMode) bool {
	return s.save.Save(mode)
}

// SaveStatus returns the save machine status.
func (s *Session) SaveStatus() autosave.Status {
	return s.save.Status()
}

// ErrPenSwitched is returned by a save that started before another pen was
// opened. Nothing is written.
var ErrPenSwitched = errors.New("pen changed before save")

// persist is the autosave.SaveFunc. Open resets the save machine while
// holding s.mu, so a ticket still current under s.mu belongs to s.current.
func (s *Session) persist(ctx context.Context, t autosave.Ticket) (time.Time, error) {
	mode := t.Mode
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return time.Time{}, ErrNoPen
	}
	if !t.Current() {
		s.mu.Unlock()
		return time.Time{}, ErrPenSwitched
	}
	in := pen.RevisionInput{
		PenID:         s.current.ID,
		Preprocessors: s.pipe.Selection(),
		Kind:          mode.Kind(),
	}
	src := s.pipe.Sources()
	in.HTML, in.CSS, in.JS = src.HTML, src.CSS, src.JS
	s.mu.Unlock()

	saved, err := s.saver.SaveRevision(ctx, s.userID, in)
	if err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == saved.ID {
		s.current = &saved
	}
	s.mu.Unlock()

	if s.debug {
		log.Printf("[Editor] Saved pen %s rev %d (%s)", saved.ID, saved.LatestRevision.RevNumber, mode)
	}
	s.emit(EventSaved, saved)
	return saved.LatestRevision.UpdatedAt, nil
}

// Layout returns the current layout.
func (s *Session) Layout() layout.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.layout.Snapshot()
}

// SetSplit changes the editor/preview split.
func (s *Session) SetSplit(o layout.Orientation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout.SetSplit(o)
	s.emit(EventLayout, s.layout.Snapshot())
}

// ToggleSplit flips the editor/preview split.
func (s *Session) ToggleSplit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout.ToggleSplit()
	s.emit(EventLayout, s.layout.Snapshot())
}

// TogglePane collapses or expands a pane.
func (s *Session) TogglePane(p pen.Pane) error {
	if !p.Valid() {
		return fmt.Errorf("unknown pane %q", p)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout.Toggle(p) {
		s.emit(EventLayout, s.layout.Snapshot())
	}
	return nil
}

// BeginResize starts dragging a divider.
func (s *Session) BeginResize(divider int, pointer float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok := s.layout.BeginResize(divider, pointer)
	if ok {
		s.emit(EventLayout, s.layout.Snapshot())
	}
	return ok
}

// MoveResize moves the dragged divider.
func (s *Session) MoveResize(pointer, extent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.layout.UpdateResize(pointer, extent) {
		s.emit(EventLayout, s.layout.Snapshot())
	}
}

// EndResize stops dragging.
func (s *Session) EndResize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dragging := s.layout.Dragging(); dragging {
		s.layout.EndResize()
		s.emit(EventLayout, s.layout.Snapshot())
	}
}

// Flush compiles the current sources now and waits for the result.
func (s *Session) Flush() {
	s.pipe.Flush()
	s.pipe.Wait()
}

// Wait blocks until in-flight compiles finish.
func (s *Session) Wait() {
	s.pipe.Wait()
}

// Close stops timers and in-flight compiles.
func (s *Session) Close() {
	s.save.Close()
	s.pipe.Close()
	if s.debug {
		log.Printf("[Editor] Closed session for user %s", s.userID)
	}
}
