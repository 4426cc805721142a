//go:build !ci

package server

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chromeBinaries are tried in order to find a local headless browser.
var chromeBinaries = []string{
	"headless-shell",
	"chromium",
	"chromium-browser",
	"google-chrome",
	"google-chrome-stable",
}

// setupChrome starts a local headless Chrome, skipping the test when none is
// installed.
func setupChrome(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()

	var path string
	for _, name := range chromeBinaries {
		if p, err := exec.LookPath(name); err == nil {
			path = p
			break
		}
	}
	if path == "" {
		t.Skip("Chrome not available, skipping E2E test")
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(path),
		chromedp.NoSandbox,
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(t.Logf))
	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)

	t.Cleanup(func() {
		timeoutCancel()
		ctxCancel()
		allocCancel()
	})
	return ctx
}

// waitFor polls a JavaScript predicate until it is true.
func waitFor(expr string) chromedp.Action {
	return chromedp.Poll(expr, nil, chromedp.WithPollingInterval(50*time.Millisecond))
}

func TestEditorLivePreviewE2E(t *testing.T) {
	env := newTestEnv(t)
	ctx := setupChrome(t, 60*time.Second)

	var location string
	err := chromedp.Run(ctx,
		chromedp.Navigate(env.ts.URL+"/auth/register"),
		chromedp.WaitVisible(`input[name="email"]`, chromedp.ByQuery),
		chromedp.SendKeys(`input[name="email"]`, "e2e@example.com", chromedp.ByQuery),
		chromedp.SendKeys(`input[name="password"]`, "password1", chromedp.ByQuery),
		chromedp.Submit(`form[action="/auth/register"]`, chromedp.ByQuery),
		chromedp.WaitVisible(`form[action="/app/pens"] button`, chromedp.ByQuery),
		chromedp.Click(`form[action="/app/pens"] button`, chromedp.ByQuery),
		chromedp.WaitVisible(`#editor`, chromedp.ByQuery),
		chromedp.Location(&location),
	)
	require.NoError(t, err)
	assert.Contains(t, location, "/app/p/")

	// The starter revision renders as soon as the socket opens the pen.
	require.NoError(t, chromedp.Run(ctx,
		waitFor(`document.getElementById("preview").srcdoc.includes("Start building your pen")`),
	))

	// Typing into the HTML pane re-renders the preview.
	require.NoError(t, chromedp.Run(ctx,
		chromedp.Evaluate(`(() => {
			const ta = document.querySelector('[data-source="html"]');
			ta.value = '<h1 id="greeting">Hello from e2e</h1>';
			ta.dispatchEvent(new Event("input", {bubbles: true}));
		})()`, nil),
		waitFor(`document.getElementById("preview").srcdoc.includes("Hello from e2e")`),
	))

	// The preview runs scripts but cannot reach the editor's document.
	var sandbox string
	var isolated bool
	require.NoError(t, chromedp.Run(ctx,
		chromedp.AttributeValue(`#preview`, "sandbox", &sandbox, nil, chromedp.ByQuery),
		chromedp.Evaluate(`new Promise(resolve => {
			const frame = document.getElementById("preview");
			let doc = null;
			try { doc = frame.contentDocument; } catch (e) {}
			resolve(doc === null);
		})`, &isolated, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}),
	))
	assert.Equal(t, "allow-scripts", sandbox)
	assert.True(t, isolated, "sandboxed preview must have an opaque origin")

	// Collapsing a pane removes it from the visible set.
	require.NoError(t, chromedp.Run(ctx,
		chromedp.Click(`[data-toggle="css"]`, chromedp.ByQuery),
		waitFor(`document.querySelector('[data-pane="css"]').classList.contains("collapsed")`),
	))

	// Ctrl+S equivalent: the save button stores a snapshot revision.
	var status string
	require.NoError(t, chromedp.Run(ctx,
		chromedp.Click(`[data-action="save"]`, chromedp.ByQuery),
		waitFor(`document.getElementById("save-status").textContent.startsWith("Saved ")`),
		chromedp.Text(`#save-status`, &status, chromedp.ByQuery),
	))
	assert.True(t, strings.HasPrefix(strings.TrimSpace(status), "Saved"), status)

	pens, err := env.store.ListPens(context.Background(), firstUserID(t, env))
	require.NoError(t, err)
	require.Len(t, pens, 1)
	p, err := env.store.PenForEditor(context.Background(), firstUserID(t, env), pens[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, p.LatestRevision.RevNumber)
	assert.Contains(t, p.LatestRevision.HTML, "Hello from e2e")
}

func firstUserID(t *testing.T, env *testEnv) string {
	t.Helper()
	u, err := env.store.UserByEmail(context.Background(), "e2e@example.com")
	require.NoError(t, err)
	return u.ID
}
