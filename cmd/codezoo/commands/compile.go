package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codezoo/codezoo/internal/compile"
	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preprocess"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/toolchain"
)

// errCompileFailed is returned after the pane errors have been printed.
var errCompileFailed = errors.New("compile failed")

// extPreprocessors picks a preprocessor from a source file's extension when
// no flag names one.
var extPreprocessors = map[string]pen.Preprocessor{
	".pug":    pen.Pug,
	".md":     pen.Markdown,
	".scss":   pen.SCSS,
	".less":   pen.Less,
	".ts":     pen.TypeScript,
	".coffee": pen.CoffeeScript,
}

type compileOptions struct {
	files  map[pen.Pane]*string
	pres   map[pen.Pane]*string
	format string
	output string
	noExec bool
}

func newCompileCommand(root *rootOptions) *cobra.Command {
	opts := &compileOptions{
		files: make(map[pen.Pane]*string),
		pres:  make(map[pen.Pane]*string),
	}
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile pane sources once and print the result",
		Long: `Compile HTML, CSS and JavaScript sources the way the editor does and
print the preview document. Preprocessors are taken from the flags or,
failing that, from the file extensions (.pug .md .scss .less .ts
.coffee). Compile errors are printed per pane and the command exits 1.

Formats:
  document  the sandboxed preview document (default)
  json      compiled panes and errors as JSON
  html, css, js  one compiled pane

Examples:
  codezoo compile --html index.md --css style.scss --js app.ts
  codezoo compile --js app.js --js-pre babel --format js
  codezoo compile --html page.pug -o preview.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCompile(cmd, root, opts)
		},
	}
	for _, p := range pen.Panes() {
		opts.files[p] = cmd.Flags().String(string(p), "", p.Label()+" source file")
		opts.pres[p] = cmd.Flags().String(string(p)+"-pre", "", p.Label()+" preprocessor: "+preprocessorNames(p))
	}
	cmd.Flags().StringVarP(&opts.format, "format", "f", "document", "Output format: document, json, html, css or js")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Write output to a file instead of stdout")
	cmd.Flags().BoolVar(&opts.noExec, "no-exec", false, "Disable preprocessors that run external commands")
	return cmd
}

func preprocessorNames(p pen.Pane) string {
	names := make([]string, 0, 4)
	for _, pre := range pen.Preprocessors(p) {
		names = append(names, string(pre))
	}
	return strings.Join(names, ", ")
}

// readSources loads the pane files and resolves each pane's preprocessor.
func (o *compileOptions) readSources() (pen.Sources, pen.Selection, error) {
	var src pen.Sources
	sel := pen.DefaultSelection()
	found := false
	for _, p := range pen.Panes() {
		path := *o.files[p]
		pre := pen.Preprocessor(*o.pres[p])
		if path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				return src, sel, fmt.Errorf("failed to read %s source: %w", p.Label(), err)
			}
			src.Set(p, string(data))
			found = true
			if pre == "" {
				pre = extPreprocessors[strings.ToLower(filepath.Ext(path))]
			}
		}
		if pre != "" {
			sel.Set(p, pre)
		}
	}
	if !found {
		return src, sel, fmt.Errorf("nothing to compile: pass at least one of --html, --css, --js")
	}
	if err := sel.Validate(); err != nil {
		return src, sel, err
	}
	return src, sel, nil
}

func runCompile(cmd *cobra.Command, root *rootOptions, opts *compileOptions) error {
	switch opts.format {
	case "document", "json", "html", "css", "js":
	default:
		return fmt.Errorf("unknown format %q", opts.format)
	}

	src, sel, err := opts.readSources()
	if err != nil {
		return err
	}
	cfg, configPath, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	config.SetAllowExec(!opts.noExec)

	ctx := cmd.Context()
	set, err := toolchain.Load(ctx, cfg.Toolchain, baseDir(configPath))
	if err != nil {
		return fmt.Errorf("failed to load toolchain: %w", err)
	}
	defer set.Close()

	compiler := compile.New(compile.Options{
		Runner: preprocess.NewRegistry(set),
		Debug:  root.debug,
	})
	res, err := compiler.Compile(ctx, src, sel)
	if err != nil {
		return err
	}

	if !res.OK() && opts.format != "json" {
		printCompileErrors(cmd.ErrOrStderr(), res.Errors)
		return errCompileFailed
	}

	var out string
	switch opts.format {
	case "document":
		out = preview.Document(res.HTML, res.CSS, res.JS)
	case "json":
		if res.Errors == nil {
			res.Errors = []pen.CompileError{}
		}
		var buf strings.Builder
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		out = buf.String()
	default:
		out = res.Output(pen.Pane(opts.format))
	}

	if err := writeOutput(cmd.OutOrStdout(), opts.output, out); err != nil {
		return err
	}
	if !res.OK() {
		return errCompileFailed
	}
	return nil
}

// printCompileErrors writes one block per failed pane.
func printCompileErrors(w io.Writer, errs []pen.CompileError) {
	for _, e := range errs {
		fmt.Fprintln(w, paneStyle.Render(e.Pane.Label()+":"))
		fmt.Fprintln(w, detailStyle.Render(strings.TrimRight(e.Message, "\n")))
	}
	fmt.Fprintln(w, errorStyle.Render(fmt.Sprintf("%d pane(s) failed to compile", len(errs))))
}

func writeOutput(stdout io.Writer, path, out string) error {
	if path == "" {
		_, err := io.WriteString(stdout, out)
		return err
	}
	if err := os.WriteFile(path, []byte(out), 0644); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
