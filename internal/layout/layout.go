// Package layout implements the editor's pane stack: which panes are visible,
// how the main axis is shared between them, and divider drags.
//
// Sizes are percentages of the stack's main axis. The sizes of visible panes
// always sum to 100; collapsed panes report 0.
package layout

import (
	"fmt"
	"math"

	"github.com/samber/lo"

	"github.com/codezoo/codezoo/internal/pen"
)

// MinPanePercent is the default floor for a visible pane's size.
const MinPanePercent = 10.0

// Orientation of the editor/preview split or of the pane stack.
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// ParseOrientation accepts "horizontal" or "vertical".
func ParseOrientation(s string) (Orientation, error) {
	switch Orientation(s) {
	case Horizontal, Vertical:
		return Orientation(s), nil
	}
	return "", fmt.Errorf("unknown orientation %q", s)
}

// Perpendicular returns the other orientation.
func (o Orientation) Perpendicular() Orientation {
	if o == Horizontal {
		return Vertical
	}
	return Horizontal
}

// DefaultSizes is the initial share of each pane.
func DefaultSizes() map[pen.Pane]float64 {
	return map[pen.Pane]float64{
		pen.Markup: 34,
		pen.Style:  33,
		pen.Script: 33,
	}
}

type drag struct {
	divider    int
	start      float64
	left       pen.Pane
	right      pen.Pane
	leftStart  float64
	rightStart float64
}

// Engine holds the layout of one editing session. It is not safe for
// concurrent use; the editor session serializes access.
type Engine struct {
	split     Orientation
	min       float64
	sizes     map[pen.Pane]float64
	collapsed map[pen.Pane]bool
	drag      *drag
}

// New returns an engine with every pane visible at the default sizes.
// A non-positive minPercent selects MinPanePercent.
func New(split Orientation, minPercent float64) *Engine {
	if split != Vertical {
		split = Horizontal
	}
	if minPercent <= 0 {
		minPercent = MinPanePercent
	}
	e := &Engine{split: split, min: minPercent}
	e.Reset()
	return e
}

// Reset restores default sizes, expands every pane and ends any drag.
// The split orientation is kept.
func (e *Engine) Reset() {
	e.sizes = DefaultSizes()
	e.collapsed = map[pen.Pane]bool{}
	e.drag = nil
}

// Split returns the editor/preview split orientation.
func (e *Engine) Split() Orientation { return e.split }

// StackDirection is always perpendicular to the split: a horizontal split
// stacks panes vertically.
func (e *Engine) StackDirection() Orientation { return e.split.Perpendicular() }

// SetSplit changes the split orientation. Sizes are untouched.
func (e *Engine) SetSplit(o Orientation) {
	if o == Horizontal || o == Vertical {
		e.split = o
	}
}

// ToggleSplit flips the split orientation.
func (e *Engine) ToggleSplit() Orientation {
	e.split = e.split.Perpendicular()
	return e.split
}

// Size returns a pane's share of the main axis; 0 when collapsed.
func (e *Engine) Size(p pen.Pane) float64 {
	if e.collapsed[p] {
		return 0
	}
	return e.sizes[p]
}

// Collapsed reports whether a pane is collapsed.
func (e *Engine) Collapsed(p pen.Pane) bool { return e.collapsed[p] }

// Visible returns the visible panes in display order.
func (e *Engine) Visible() []pen.Pane {
	return lo.Filter(pen.Panes(), func(p pen.Pane, _ int) bool {
		return !e.collapsed[p]
	})
}

// Dragging returns the divider being dragged, if any.
func (e *Engine) Dragging() (int, bool) {
	if e.drag == nil {
		return 0, false
	}
	return e.drag.divider, true
}

// Toggle collapses a visible pane or expands a collapsed one.
func (e *Engine) Toggle(p pen.Pane) bool {
	if e.collapsed[p] {
		return e.Expand(p)
	}
	return e.Collapse(p)
}

// Collapse hides p and hands its size to the remaining visible panes in
// proportion to their current sizes. Collapsing the last visible pane, an
// already collapsed pane or an unknown pane does nothing. Reports whether
// the layout changed.
func (e *Engine) Collapse(p pen.Pane) bool {
	if !p.Valid() || e.collapsed[p] {
		return false
	}
	remaining := lo.Filter(e.Visible(), func(q pen.Pane, _ int) bool { return q != p })
	if len(remaining) == 0 {
		return false
	}

	e.drag = nil
	freed := e.sizes[p]
	total := e.sum(remaining)
	for _, q := range remaining {
		share := 1 / float64(len(remaining))
		if total > 0 {
			share = e.sizes[q] / total
		}
		e.sizes[q] += freed * share
	}
	e.sizes[p] = 0
	e.collapsed[p] = true
	return true
}

// Expand shows p again with an even share (100 / visible count) and scales
// the other visible panes into the rest, keeping their ratios. The size p
// had before collapsing is not restored. Reports whether the layout changed.
func (e *Engine) Expand(p pen.Pane) bool {
	if !p.Valid() || !e.collapsed[p] {
		return false
	}

	e.drag = nil
	delete(e.collapsed, p)
	visible := e.Visible()
	others := lo.Filter(visible, func(q pen.Pane, _ int) bool { return q != p })

	share := 100 / float64(len(visible))
	rest := 100 - share
	total := e.sum(others)
	e.sizes[p] = share
	for _, q := range others {
		ratio := 1 / float64(len(others))
		if total > 0 {
			ratio = e.sizes[q] / total
		}
		e.sizes[q] = rest * ratio
	}
	e.liftToFloor(visible)
	return true
}

// liftToFloor raises visible panes below the minimum to the minimum, taking
// the difference from the panes above it in proportion to their surplus.
func (e *Engine) liftToFloor(visible []pen.Pane) {
	floor := math.Min(e.min, 100/float64(len(visible)))
	var deficit, surplus float64
	for _, q := range visible {
		if e.sizes[q] < floor {
			deficit += floor - e.sizes[q]
		} else {
			surplus += e.sizes[q] - floor
		}
	}
	if deficit <= 0 || surplus <= 0 {
		return
	}
	for _, q := range visible {
		if e.sizes[q] < floor {
			e.sizes[q] = floor
			continue
		}
		e.sizes[q] -= deficit * (e.sizes[q] - floor) / surplus
	}
}

// Dividers returns the number of drag handles: one between each pair of
// adjacent visible panes.
func (e *Engine) Dividers() int {
	return max(len(e.Visible())-1, 0)
}

// BeginResize captures the panes on either side of divider and the pointer
// position along the stack's main axis. It returns false when the divider
// does not exist.
func (e *Engine) BeginResize(divider int, pointer float64) bool {
	visible := e.Visible()
	if divider < 0 || divider+1 >= len(visible) {
		return false
	}
	left, right := visible[divider], visible[divider+1]
	e.drag = &drag{
		divider:    divider,
		start:      pointer,
		left:       left,
		right:      right,
		leftStart:  e.sizes[left],
		rightStart: e.sizes[right],
	}
	return true
}

// UpdateResize moves the active divider to pointer. extent is the stack's
// main-axis length in the same unit as pointer. The pair's combined size is
// kept; each side keeps at least min(floor, combined/2). Reports whether
// sizes changed.
func (e *Engine) UpdateResize(pointer, extent float64) bool {
	d := e.drag
	if d == nil || extent <= 0 {
		return false
	}
	total := d.leftStart + d.rightStart
	if total <= 0 {
		return false
	}

	delta := (pointer - d.start) / extent * 100
	bound := math.Min(e.min, total/2)
	left := math.Max(bound, math.Min(total-bound, d.leftStart+delta))

	e.sizes[d.left] = left
	e.sizes[d.right] = total - left
	return true
}

// EndResize releases the active drag.
func (e *Engine) EndResize() {
	e.drag = nil
}

func (e *Engine) sum(panes []pen.Pane) float64 {
	return lo.SumBy(panes, func(p pen.Pane) float64 { return e.sizes[p] })
}

// PaneState is one pane's entry in a Snapshot.
type PaneState struct {
	ID        pen.Pane `json:"id"`
	Label     string   `json:"label"`
	Size      float64  `json:"size"`
	Collapsed bool     `json:"collapsed"`
}

// Snapshot is the serializable view of the layout sent to the client.
type Snapshot struct {
	Split    Orientation `json:"split"`
	Stack    Orientation `json:"stack"`
	Panes    []PaneState `json:"panes"`
	Visible  []pen.Pane  `json:"visible"`
	Dividers int         `json:"dividers"`
	Dragging *int        `json:"dragging"`
}

// Snapshot returns the current layout.
func (e *Engine) Snapshot() Snapshot {
	s := Snapshot{
		Split:    e.split,
		Stack:    e.StackDirection(),
		Visible:  e.Visible(),
		Dividers: e.Dividers(),
	}
	s.Panes = lo.Map(pen.Panes(), func(p pen.Pane, _ int) PaneState {
		return PaneState{ID: p, Label: p.Label(), Size: e.Size(p), Collapsed: e.collapsed[p]}
	})
	if d, ok := e.Dragging(); ok {
		s.Dragging = &d
	}
	return s
}
