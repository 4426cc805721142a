// Package pen defines the data model shared by the editor core: pane roles,
// preprocessor selections, sources, compile results and revision payloads.
package pen

import (
	"fmt"
	"time"
)

// Pane is one of the three source editors.
type Pane string

const (
	Markup Pane = "html"
	Style  Pane = "css"
	Script Pane = "js"
)

// Panes returns the panes in display order (markup, style, script).
func Panes() []Pane {
	return []Pane{Markup, Style, Script}
}

// Valid reports whether p is one of the three known panes.
func (p Pane) Valid() bool {
	switch p {
	case Markup, Style, Script:
		return true
	}
	return false
}

// Label returns the human readable pane name.
func (p Pane) Label() string {
	switch p {
	case Markup:
		return "HTML"
	case Style:
		return "CSS"
	case Script:
		return "JavaScript"
	default:
		return string(p)
	}
}

// Index returns the position of p in Panes(), or -1.
func (p Pane) Index() int {
	for i, q := range Panes() {
		if q == p {
			return i
		}
	}
	return -1
}

// ParsePane converts a pane id ("html", "css", "js") into a Pane.
func ParsePane(s string) (Pane, error) {
	p := Pane(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown pane %q", s)
	}
	return p, nil
}

// Sources holds the raw text of every pane.
type Sources struct {
	HTML string `json:"html"`
	CSS  string `json:"css"`
	JS   string `json:"js"`
}

// Get returns the source of a pane.
func (s Sources) Get(p Pane) string {
	switch p {
	case Markup:
		return s.HTML
	case Style:
		return s.CSS
	case Script:
		return s.JS
	}
	return ""
}

// Set replaces the source of a pane. Unknown panes are ignored.
func (s *Sources) Set(p Pane, value string) {
	switch p {
	case Markup:
		s.HTML = value
	case Style:
		s.CSS = value
	case Script:
		s.JS = value
	}
}

// CompileError attributes a compile failure to a pane.
type CompileError struct {
	Pane    Pane   `json:"pane"`
	Message string `json:"message"`
}

func (e CompileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Pane, e.Message)
}

// Result is the aggregated output of one compile attempt. Panes that failed
// have empty output.
type Result struct {
	HTML   string         `json:"compiledHtml"`
	CSS    string         `json:"compiledCss"`
	JS     string         `json:"compiledJs"`
	Errors []CompileError `json:"errors"`
}

// OK reports whether every pane compiled.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// Output returns the compiled text for a pane.
func (r Result) Output(p Pane) string {
	switch p {
	case Markup:
		return r.HTML
	case Style:
		return r.CSS
	case Script:
		return r.JS
	}
	return ""
}

// SetOutput stores the compiled text for a pane.
func (r *Result) SetOutput(p Pane, code string) {
	switch p {
	case Markup:
		r.HTML = code
	case Style:
		r.CSS = code
	case Script:
		r.JS = code
	}
}

// RevisionKind tags how a revision was created.
type RevisionKind string

const (
	KindSnapshot RevisionKind = "SNAPSHOT"
	KindAutosave RevisionKind = "AUTOSAVE"
)

// Valid reports whether k is a known revision kind.
func (k RevisionKind) Valid() bool {
	return k == KindSnapshot || k == KindAutosave
}

// SaveMode distinguishes user-triggered saves from timer-triggered ones.
type SaveMode string

const (
	SaveManual   SaveMode = "manual"
	SaveAutosave SaveMode = "autosave"
)

// Kind maps a save mode to the revision kind it produces.
func (m SaveMode) Kind() RevisionKind {
	if m == SaveAutosave {
		return KindAutosave
	}
	return KindSnapshot
}

// Visibility of a pen.
type Visibility string

const (
	Private  Visibility = "PRIVATE"
	Unlisted Visibility = "UNLISTED"
	Public   Visibility = "PUBLIC"
)

// Revision is an immutable snapshot of a pen's sources.
type Revision struct {
	ID            string       `json:"id"`
	RevNumber     int          `json:"revNumber"`
	Kind          RevisionKind `json:"kind"`
	HTML          string       `json:"html"`
	CSS           string       `json:"css"`
	JS            string       `json:"js"`
	Preprocessors Selection    `json:"preprocessors"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Sources returns the revision's pane sources.
func (r Revision) Sources() Sources {
	return Sources{HTML: r.HTML, CSS: r.CSS, JS: r.JS}
}

// Pen is the editor payload: a pen with its latest revision.
type Pen struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Slug           string     `json:"slug,omitempty"`
	Visibility     Visibility `json:"visibility"`
	LatestRevision Revision   `json:"latestRevision"`
}

// Summary is the dashboard listing entry for a pen.
type Summary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Slug       string     `json:"slug,omitempty"`
	Visibility Visibility `json:"visibility"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// RevisionInput is what the editor sends when persisting a revision.
type RevisionInput struct {
	PenID         string       `json:"penId" validate:"required,uuid"`
	HTML          string       `json:"html"`
	CSS           string       `json:"css"`
	JS            string       `json:"js"`
	Preprocessors Selection    `json:"preprocessors"`
	Kind          RevisionKind `json:"kind,omitempty" validate:"omitempty,oneof=SNAPSHOT AUTOSAVE"`
}
