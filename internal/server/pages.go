package server

import (
	"bytes"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/codezoo/codezoo/internal/assets"
	"github.com/codezoo/codezoo/internal/auth"
	"github.com/codezoo/codezoo/internal/pen"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/store"
)

// authPage is the data of the login and register pages.
type authPage struct {
	Mode        string // "login" or "register"
	Email       string
	DisplayName string
	Error       string
}

type dashboardPage struct {
	User store.User
	Pens []pen.Summary
}

type paneView struct {
	ID       pen.Pane
	Label    string
	Options  []pen.Preprocessor
	Selected pen.Preprocessor
	Source   string
}

type editorPage struct {
	User    store.User
	Pen     pen.Pen
	Panes   []paneView
	Split   string
	Sandbox string
}

// render buffers the page so a template error can still become a 500.
func (s *Server) render(w http.ResponseWriter, status int, page string, data interface{}) {
	var buf bytes.Buffer
	if err := assets.Render(&buf, page, data); err != nil {
		log.Printf("[Server] Failed to render %s: %v", page, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.auth.Authenticate(r); ok {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, assets.PageLogin, authPage{Mode: "login"})
}

func (s *Server) handleRegisterPage(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.auth.Authenticate(r); ok {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, assets.PageLogin, authPage{Mode: "register"})
}

func readCredentials(w http.ResponseWriter, r *http.Request) (auth.Credentials, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := r.ParseForm(); err != nil {
		return auth.Credentials{}, false
	}
	return auth.Credentials{
		Email:       strings.TrimSpace(r.PostForm.Get("email")),
		Password:    r.PostForm.Get("password"),
		DisplayName: strings.TrimSpace(r.PostForm.Get("display_name")),
	}, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	cred, ok := readCredentials(w, r)
	if !ok {
		s.render(w, http.StatusBadRequest, assets.PageLogin, authPage{Mode: "login", Error: "Could not read the form."})
		return
	}
	page := authPage{Mode: "login", Email: cred.Email}
	if cred.Email == "" || cred.Password == "" {
		page.Error = "Email and password are required."
		s.render(w, http.StatusBadRequest, assets.PageLogin, page)
		return
	}

	_, cookie, err := s.auth.Login(r.Context(), cred, auth.ClientFrom(r))
	if errors.Is(err, auth.ErrInvalidCredentials) {
		page.Error = "Invalid email or password."
		s.render(w, http.StatusUnauthorized, assets.PageLogin, page)
		return
	}
	if err != nil {
		log.Printf("[Server] Login failed: %v", err)
		page.Error = "Something went wrong. Please try again."
		s.render(w, http.StatusInternalServerError, assets.PageLogin, page)
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	cred, ok := readCredentials(w, r)
	if !ok {
		s.render(w, http.StatusBadRequest, assets.PageLogin, authPage{Mode: "register", Error: "Could not read the form."})
		return
	}
	page := authPage{Mode: "register", Email: cred.Email, DisplayName: cred.DisplayName}
	if err := s.validate.Struct(cred); err != nil {
		page.Error = validationMessage(err)
		s.render(w, http.StatusBadRequest, assets.PageLogin, page)
		return
	}

	u, cookie, err := s.auth.Register(r.Context(), cred, auth.ClientFrom(r))
	if errors.Is(err, auth.ErrEmailTaken) {
		page.Error = "An account with that email already exists."
		s.render(w, http.StatusConflict, assets.PageLogin, page)
		return
	}
	if err != nil {
		log.Printf("[Server] Registration failed: %v", err)
		page.Error = "Something went wrong. Please try again."
		s.render(w, http.StatusInternalServerError, assets.PageLogin, page)
		return
	}
	if s.debug {
		log.Printf("[Server] Registered user %s", u.ID)
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, "/app", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := s.auth.Logout(r.Context(), r)
	if err != nil {
		log.Printf("[Server] Logout failed: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, cookie)
	http.Redirect(w, r, auth.LoginPath, http.StatusSeeOther)
}

// handleDashboard lists the user's pens: JSON when asked for, HTML otherwise.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	pens, err := s.store.ListPens(r.Context(), u.ID)
	if err != nil {
		log.Printf("[Server] Failed to list pens: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, map[string]interface{}{"pens": pens})
		return
	}
	s.render(w, http.StatusOK, assets.PageDashboard, dashboardPage{User: u, Pens: pens})
}

func (s *Server) handleNewPen(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.CreatePen(r.Context(), u.ID)
	if err != nil {
		log.Printf("[Server] Failed to create pen: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/app/p/"+p.ID, http.StatusSeeOther)
}

// handleEditorPage renders the editor shell. A missing pen sends the user
// back to the dashboard.
func (s *Server) handleEditorPage(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	p, err := s.store.PenForEditor(r.Context(), u.ID, r.PathValue("penID"))
	if errors.Is(err, store.ErrNotFound) {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
		return
	}
	if err != nil {
		log.Printf("[Server] Failed to load pen: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	rev := p.LatestRevision
	panes := make([]paneView, 0, 3)
	for _, pane := range pen.Panes() {
		panes = append(panes, paneView{
			ID:       pane,
			Label:    pane.Label(),
			Options:  pen.Preprocessors(pane),
			Selected: rev.Preprocessors.Normalize().Get(pane),
			Source:   rev.Sources().Get(pane),
		})
	}
	s.render(w, http.StatusOK, assets.PageEditor, editorPage{
		User:    u,
		Pen:     p,
		Panes:   panes,
		Split:   s.config.Editor.GetDefaultSplit(),
		Sandbox: preview.SandboxAttr,
	})
}

// handlePreview serves the last good preview of an open pen. When no editor
// has rendered the pen yet, its latest revision is compiled on demand.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())
	penID := r.PathValue("penID")

	w.Header().Set("X-Frame-Options", "SAMEORIGIN")
	if entry, ok := s.previews.Get(u.ID, penID); ok {
		preview.Serve(w, entry.Document)
		return
	}

	p, err := s.store.PenForEditor(r.Context(), u.ID, penID)
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("[Server] Failed to load pen: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.serveCompiled(w, r, p)
}

// handlePublicPen serves the preview of a PUBLIC pen by slug.
func (s *Server) handlePublicPen(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.PublicPen(r.Context(), r.PathValue("slug"))
	if errors.Is(err, store.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		log.Printf("[Server] Failed to load public pen: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	s.serveCompiled(w, r, p)
}

// serveCompiled compiles a pen's latest revision and serves the document.
// Panes that fail to compile are left empty.
func (s *Server) serveCompiled(w http.ResponseWriter, r *http.Request, p pen.Pen) {
	rev := p.LatestRevision
	res, err := s.compiler.Compile(r.Context(), rev.Sources(), rev.Preprocessors)
	if err != nil {
		return
	}
	if s.debug && !res.OK() {
		log.Printf("[Server] Pen %s compiled with %d error(s)", p.ID, len(res.Errors))
	}
	preview.Serve(w, preview.Document(res.HTML, res.CSS, res.JS))
}
