package pen

import (
	"encoding/json"
	"fmt"
)

// Preprocessor identifies a source-to-source transform. The set is closed:
// every value belongs to exactly one pane, except None which every pane accepts.
type Preprocessor string

const (
	None Preprocessor = "none"

	Pug      Preprocessor = "pug"
	Markdown Preprocessor = "markdown"

	SCSS Preprocessor = "scss"
	Less Preprocessor = "less"

	TypeScript   Preprocessor = "typescript"
	Babel        Preprocessor = "babel"
	CoffeeScript Preprocessor = "coffeescript"
)

// Preprocessors returns the options available to a pane, None first.
func Preprocessors(p Pane) []Preprocessor {
	switch p {
	case Markup:
		return []Preprocessor{None, Pug, Markdown}
	case Style:
		return []Preprocessor{None, SCSS, Less}
	case Script:
		return []Preprocessor{None, TypeScript, Babel, CoffeeScript}
	}
	return nil
}

// Allows reports whether pre may be selected for pane p.
func (p Pane) Allows(pre Preprocessor) bool {
	for _, candidate := range Preprocessors(p) {
		if candidate == pre {
			return true
		}
	}
	return false
}

// Selection is the preprocessor chosen for each pane.
type Selection struct {
	HTML Preprocessor `json:"html"`
	CSS  Preprocessor `json:"css"`
	JS   Preprocessor `json:"js"`
}

// DefaultSelection passes every pane through unchanged.
func DefaultSelection() Selection {
	return Selection{HTML: None, CSS: None, JS: None}
}

// Get returns the preprocessor selected for a pane.
func (s Selection) Get(p Pane) Preprocessor {
	switch p {
	case Markup:
		return s.HTML
	case Style:
		return s.CSS
	case Script:
		return s.JS
	}
	return None
}

// Set changes the preprocessor of a pane.
func (s *Selection) Set(p Pane, pre Preprocessor) {
	switch p {
	case Markup:
		s.HTML = pre
	case Style:
		s.CSS = pre
	case Script:
		s.JS = pre
	}
}

// Normalize fills unset panes with None.
func (s Selection) Normalize() Selection {
	for _, p := range Panes() {
		if s.Get(p) == "" {
			s.Set(p, None)
		}
	}
	return s
}

// Validate checks that every pane's preprocessor is allowed for that pane.
func (s Selection) Validate() error {
	for _, p := range Panes() {
		pre := s.Get(p)
		if !p.Allows(pre) {
			return fmt.Errorf("preprocessor %q is not available for %s", pre, p.Label())
		}
	}
	return nil
}

// UnmarshalJSON accepts partial selections; missing panes default to None.
func (s *Selection) UnmarshalJSON(data []byte) error {
	type plain Selection
	var raw plain
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Selection(raw).Normalize()
	return nil
}
