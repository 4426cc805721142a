package preprocess

import (
	"bytes"
	"context"
	"fmt"

	"github.com/eknkc/amber"
)

// Pug compiles indentation-based templates to HTML. Templates run with no
// data, so they can only produce static markup.
func Pug() Transformer {
	return TransformerFunc(func(_ context.Context, source string) (string, error) {
		tmpl, err := amber.Compile(source, amber.Options{PrettyPrint: true})
		if err != nil {
			return "", err
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, nil); err != nil {
			return "", fmt.Errorf("render: %w", err)
		}
		return buf.String(), nil
	})
}
