// Package assets embeds the page templates and the editor client script and styles
package assets

import (
	"embed"
	"html/template"
	"io"
	"io/fs"
	"strings"
)

//go:embed client/*
var clientFS embed.FS

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"dec":   func(i int) int { return i - 1 },
}).ParseFS(templateFS, "templates/*.html"))

// Page names accepted by Render.
const (
	PageLogin     = "login.html"
	PageDashboard = "dashboard.html"
	PageEditor    = "editor.html"
)

// ClientFS returns the embedded client files
func ClientFS() fs.FS {
	sub, err := fs.Sub(clientFS, "client")
	if err != nil {
		panic(err)
	}
	return sub
}

// GetClientJS returns the editor client script
func GetClientJS() ([]byte, error) {
	return clientFS.ReadFile("client/codezoo-editor.js")
}

// GetClientCSS returns the application stylesheet
func GetClientCSS() ([]byte, error) {
	return clientFS.ReadFile("client/codezoo.css")
}

// Render executes a page template into w.
func Render(w io.Writer, page string, data any) error {
	return pages.ExecuteTemplate(w, page, data)
}
