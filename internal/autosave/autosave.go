// Package autosave tracks unsaved edits and persists them after a quiet
// period or on request.
//
// States move idle -> dirty -> saving -> idle on success, and
// saving -> error on failure; the next edit or a manual save leaves error.
// A save requested while one is in flight is dropped, and failed saves are
// never retried automatically.
package autosave

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/pipeline"
)

// DefaultDelay is the idle time before an autosave.
const DefaultDelay = 4 * time.Second

// State of the save machine.
type State string

const (
	Idle   State = "idle"
	Dirty  State = "dirty"
	Saving State = "saving"
	Error  State = "error"
)

// Status messages shown to the user.
const (
	MsgSaving          = "Saving changes…"
	MsgAutosaving      = "Autosaving…"
	MsgUnsaved         = "Unsaved changes"
	MsgAutosaveFailed  = "Autosave failed. Use Save to try again."
	MsgManualFailed    = "Could not save changes. Please try again."
	savedTimeLayout    = "3:04:05 PM"
	savedMessagePrefix = "Saved "
)

// SaveFunc persists the current edits and returns when the new revision was
// stored. Implementations check t.Current before capturing what to write.
type SaveFunc func(ctx context.Context, t Ticket) (time.Time, error)

// Ticket identifies one save attempt.
type Ticket struct {
	Mode  pen.SaveMode
	m     *Machine
	epoch uint64
}

// Current reports whether the machine has not been reset since the save
// started. A caller holding the lock it also holds around Reset gets a
// stable answer.
func (t Ticket) Current() bool {
	if t.m == nil {
		return false
	}
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	return t.epoch == t.m.epoch && !t.m.closed
}

// Status is a snapshot of the machine for display.
type Status struct {
	State     State        `json:"state"`
	Mode      pen.SaveMode `json:"mode,omitempty"`
	Error     string       `json:"error,omitempty"`
	LastSaved time.Time    `json:"lastSaved"`
	Text      string       `json:"text"`
}

// Options configures a Machine.
type Options struct {
	Delay     time.Duration
	Scheduler pipeline.Scheduler
	Save      SaveFunc
	// OnStatus is called after every state change, without locks held.
	OnStatus func(Status)
	Debug    bool
}

// Machine is the save state machine of one editing session.
type Machine struct {
	mu        sync.Mutex
	ctx       context.Context
	delay     time.Duration
	scheduler pipeline.Scheduler
	save      SaveFunc
	onStatus  func(Status)
	debug     bool

	state     State
	mode      pen.SaveMode
	errMsg    string
	lastSaved time.Time
	timer     pipeline.Handle
	editedMid bool
	epoch     uint64
	closed    bool
}

// New returns an idle machine.
func New(ctx context.Context, opts Options) *Machine {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Scheduler == nil {
		opts.Scheduler = pipeline.NewTimerScheduler()
	}
	return &Machine{
		ctx:       ctx,
		delay:     opts.Delay,
		scheduler: opts.Scheduler,
		save:      opts.Save,
		onStatus:  opts.OnStatus,
		debug:     opts.Debug,
		state:     Idle,
	}
}

// Reset forgets pending edits and timers, e.g. when another pen is opened.
// A save still in flight finishes but its outcome is ignored.
func (m *Machine) Reset(lastSaved time.Time) {
	m.mu.Lock()
	m.epoch++
	m.scheduler.Cancel(m.timer)
	m.timer = 0
	m.state = Idle
	m.mode = ""
	m.errMsg = ""
	m.editedMid = false
	m.lastSaved = lastSaved
	st := m.statusLocked()
	m.mu.Unlock()
	m.notify(st)
}

// MarkDirty records an edit and restarts the autosave timer.
func (m *Machine) MarkDirty() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if m.state == Saving {
		m.editedMid = true
	} else {
		m.state = Dirty
		m.errMsg = ""
	}
	m.scheduleLocked()
	st := m.statusLocked()
	m.mu.Unlock()
	m.notify(st)
}

func (m *Machine) scheduleLocked() {
	m.scheduler.Cancel(m.timer)
	epoch := m.epoch
	m.timer = m.scheduler.Schedule(m.delay, func() {
		m.mu.Lock()
		stale := epoch != m.epoch
		m.timer = 0
		m.mu.Unlock()
		if !stale {
			m.Save(pen.SaveAutosave)
		}
	})
}

// Save persists the edits in the given mode. It returns false without doing
// anything when there is nothing to save or a save is already running.
// The save runs on the calling goroutine.
func (m *Machine) Save(mode pen.SaveMode) bool {
	m.mu.Lock()
	if m.closed || m.save == nil || m.state == Saving || (m.state != Dirty && m.state != Error) {
		if m.debug {
			log.Printf("[Autosave] Skipping %s save in state %s", mode, m.state)
		}
		m.mu.Unlock()
		return false
	}
	m.scheduler.Cancel(m.timer)
	m.timer = 0
	m.state = Saving
	m.mode = mode
	m.errMsg = ""
	m.editedMid = false
	epoch := m.epoch
	st := m.statusLocked()
	m.mu.Unlock()
	m.notify(st)

	savedAt, err := m.save(m.ctx, Ticket{Mode: mode, m: m, epoch: epoch})

	m.mu.Lock()
	if epoch != m.epoch || m.closed {
		m.mu.Unlock()
		return true
	}
	switch {
	case err != nil:
		log.Printf("[Autosave] %s save failed: %v", mode, err)
		m.state = Error
		m.errMsg = MsgManualFailed
		if mode == pen.SaveAutosave {
			m.errMsg = MsgAutosaveFailed
		}
	case m.editedMid:
		m.lastSaved = savedAt
		m.state = Dirty
		m.scheduleLocked()
	default:
		m.lastSaved = savedAt
		m.state = Idle
	}
	m.mode = ""
	m.editedMid = false
	st = m.statusLocked()
	m.mu.Unlock()
	m.notify(st)
	return true
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// Close cancels the autosave timer. Later edits are ignored.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.scheduler.Cancel(m.timer)
	m.timer = 0
}

func (m *Machine) statusLocked() Status {
	st := Status{
		State:     m.state,
		Mode:      m.mode,
		Error:     m.errMsg,
		LastSaved: m.lastSaved,
	}
	st.Text = st.describe(m.editedMid)
	return st
}

func (s Status) describe(editedMid bool) string {
	switch s.State {
	case Saving:
		if s.Mode == pen.SaveAutosave {
			return MsgAutosaving
		}
		return MsgSaving
	case Error:
		return s.Error
	case Dirty:
		return MsgUnsaved
	}
	if editedMid {
		return MsgUnsaved
	}
	return savedMessagePrefix + s.LastSaved.Local().Format(savedTimeLayout)
}

func (m *Machine) notify(st Status) {
	if m.onStatus != nil {
		m.onStatus(st)
	}
}
