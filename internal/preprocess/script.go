package preprocess

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
)

// TypeScript strips types and lowers to ES2020. JSX compiles against the
// automatic runtime.
func TypeScript() Transformer {
	return esbuild(api.TransformOptions{
		Loader:     api.LoaderTSX,
		Target:     api.ES2020,
		JSX:        api.JSXAutomatic,
		Sourcemap:  api.SourceMapNone,
		Sourcefile: "pen.tsx",
	})
}

// Babel lowers modern JavaScript for runtimes that support ES modules.
func Babel() Transformer {
	return esbuild(api.TransformOptions{
		Loader:     api.LoaderJS,
		Target:     api.ES2017,
		Sourcemap:  api.SourceMapNone,
		Sourcefile: "pen.js",
	})
}

func esbuild(opts api.TransformOptions) Transformer {
	return TransformerFunc(func(_ context.Context, source string) (string, error) {
		result := api.Transform(source, opts)
		if len(result.Errors) > 0 {
			return "", messagesError(result.Errors)
		}
		return string(result.Code), nil
	})
}

func messagesError(msgs []api.Message) error {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Location != nil {
			lines = append(lines, fmt.Sprintf("%d:%d: %s", m.Location.Line, m.Location.Column, m.Text))
			continue
		}
		lines = append(lines, m.Text)
	}
	return errors.New(strings.Join(lines, "\n"))
}
