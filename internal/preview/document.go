// Package preview builds the sandboxed document a pen renders into and keeps
// the latest document of every open pen so it can be served over HTTP.
package preview

import (
	"net/http"
	"strings"
)

// SandboxAttr is the iframe sandbox: scripts run, but the document gets an
// opaque origin and cannot reach the app's cookies or DOM.
const SandboxAttr = "allow-scripts"

// ContentSecurityPolicy applies the same sandbox to documents loaded
// directly rather than through an iframe.
const ContentSecurityPolicy = "sandbox " + SandboxAttr

// Document combines compiled output into one HTML document: styles in the
// head, then markup and the script at the end of the body. Each render is a
// complete document, so no preview state survives between renders.
func Document(html, css, js string) string {
	var b strings.Builder
	b.Grow(len(html) + len(css) + len(js) + 160)
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<style>")
	b.WriteString(css)
	b.WriteString("</style>\n</head>\n<body>\n")
	b.WriteString(html)
	b.WriteString("\n<script>")
	b.WriteString(js)
	b.WriteString("</script>\n</body>\n</html>\n")
	return b.String()
}

// Serve writes doc with the sandbox headers.
func Serve(w http.ResponseWriter, doc string) {
	h := w.Header()
	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Security-Policy", ContentSecurityPolicy)
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	_, _ = w.Write([]byte(doc))
}
