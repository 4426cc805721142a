package preprocess

import (
	"bytes"
	"context"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown converts GitHub-flavored markdown to HTML. Raw HTML in the source
// is passed through; the preview sandbox is what isolates it.
func Markdown() Transformer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)
	return TransformerFunc(func(_ context.Context, source string) (string, error) {
		var buf bytes.Buffer
		if err := md.Convert([]byte(source), &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	})
}
