package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/codezoo/codezoo/internal/assets"
	"github.com/codezoo/codezoo/internal/auth"
	"github.com/codezoo/codezoo/internal/cache"
	"github.com/codezoo/codezoo/internal/compile"
	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/editor"
	"github.com/codezoo/codezoo/internal/preprocess"
	"github.com/codezoo/codezoo/internal/preview"
	"github.com/codezoo/codezoo/internal/store"
	"github.com/codezoo/codezoo/internal/toolchain"
)

// Options configures a Server.
type Options struct {
	Config *config.Config
	Store  *store.Store
	// ConfigPath is the codezoo.yaml watched by EnableWatch. Relative
	// toolchain paths resolve against its directory.
	ConfigPath string
	// Compiler overrides the default orchestrator over the process-wide
	// preprocessor registry.
	Compiler *compile.Orchestrator
}

// Server is the codezoo HTTP server.
type Server struct {
	config     *config.Config
	configPath string
	store      *store.Store
	auth       *auth.Service
	compiler   *compile.Orchestrator
	results    *cache.MemoryCache
	previews   *preview.Registry
	validate   *validator.Validate
	debug      bool

	ctx    context.Context
	cancel context.CancelFunc

	handler       http.Handler
	rateLimitDone <-chan struct{}
	sweepDone     chan struct{}

	connections map[*websocket.Conn]*editor.Session // Track connected editor clients
	connMu      sync.RWMutex
	watcher     *Watcher
	closeOnce   sync.Once
}

// New creates a server and builds its routes.
func New(opts Options) *Server {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:      cfg,
		configPath:  opts.ConfigPath,
		store:       opts.Store,
		auth:        auth.New(opts.Store, cfg.Auth),
		compiler:    opts.Compiler,
		previews:    preview.NewRegistry(cfg.Preview.GetSessionTTL()),
		validate:    newValidator(),
		debug:       cfg.Server.Debug || config.IsDebug(),
		ctx:         ctx,
		cancel:      cancel,
		connections: make(map[*websocket.Conn]*editor.Session),
	}
	if s.compiler == nil {
		s.results = cache.NewMemoryCache(1000)
		s.compiler = compile.New(compile.Options{
			Cache: s.results,
			Debug: s.debug,
		})
	}
	s.handler = s.routes()

	s.sweepDone = make(chan struct{})
	go s.sweepSessions(sessionSweepInterval)
	return s
}

// sessionSweepInterval is how often expired login sessions are deleted.
const sessionSweepInterval = time.Hour

func (s *Server) sweepSessions(interval time.Duration) {
	defer close(s.sweepDone)
	if s.store == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.DeleteExpiredSessions(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil {
					log.Printf("[Server] Failed to delete expired sessions: %v", err)
				}
				continue
			}
			if n > 0 && s.debug {
				log.Printf("[Server] Deleted %d expired session(s)", n)
			}
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/app", http.StatusSeeOther)
	})

	mux.HandleFunc("GET /auth/login", s.handleLoginPage)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/register", s.handleRegisterPage)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	mux.Handle("GET /app", s.auth.RequireUser(http.HandlerFunc(s.handleDashboard)))
	mux.Handle("POST /app/pens", s.auth.RequireUser(http.HandlerFunc(s.handleNewPen)))
	mux.Handle("GET /app/p/{penID}", s.auth.RequireUser(http.HandlerFunc(s.handleEditorPage)))

	// JSON API and editor socket: rate limited per client IP.
	api := http.NewServeMux()
	api.HandleFunc("GET /api/pens", s.handleListPens)
	api.HandleFunc("POST /api/pens", s.handleCreatePen)
	api.HandleFunc("GET /api/pens/{penID}", s.handleGetPen)
	api.HandleFunc("PATCH /api/pens/{penID}", s.handleUpdatePen)
	api.HandleFunc("DELETE /api/pens/{penID}", s.handleDeletePen)
	api.HandleFunc("POST /api/pens/{penID}/revisions", s.handleSaveRevision)
	api.HandleFunc("POST /api/compile", s.handleCompile)

	limiter := newRateLimiter(
		s.config.API.GetRateLimitRPS(),
		s.config.API.GetRateLimitBurst(),
		s.config.API.GetRateLimitMaxIPs())
	s.rateLimitDone = limiter.run(s.ctx, clientSweepInterval)
	mux.Handle("/api/", CORSMiddleware(s.config.API.GetCORSOrigins())(limiter.middleware(s.auth.RequireUser(api))))

	mux.Handle("GET /ws/editor", limiter.middleware(s.auth.RequireUser(http.HandlerFunc(s.serveEditorSocket))))
	mux.Handle("GET /preview/{penID}", s.auth.RequireUser(http.HandlerFunc(s.handlePreview)))
	mux.HandleFunc("GET /p/{slug}", s.handlePublicPen)

	mux.Handle("GET /assets/", http.StripPrefix("/assets/", http.FileServerFS(assets.ClientFS())))

	return SecurityHeadersMiddleware()(compressionMiddleware(mux))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Previews returns the preview registry.
func (s *Server) Previews() *preview.Registry {
	return s.previews
}

// RegisterConnection adds an editor connection to the tracked connections.
func (s *Server) RegisterConnection(conn *websocket.Conn, session *editor.Session) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	s.connections[conn] = session
	if s.debug {
		log.Printf("[Server] WebSocket connection registered: %d active connections", len(s.connections))
	}
}

// UnregisterConnection removes an editor connection from tracked connections.
func (s *Server) UnregisterConnection(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	delete(s.connections, conn)
	if s.debug {
		log.Printf("[Server] WebSocket connection unregistered: %d active connections", len(s.connections))
	}
}

// ConnectionCount returns the number of open editor connections.
func (s *Server) ConnectionCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return len(s.connections)
}

// ReloadToolchain rebuilds the preprocessor registry from the config file
// and swaps it in. Compiles already running finish on the old registry.
func (s *Server) ReloadToolchain() error {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		return err
	}
	set, err := toolchain.Load(s.ctx, cfg.Toolchain, filepath.Dir(s.configPath))
	if err != nil {
		return fmt.Errorf("failed to load toolchain: %w", err)
	}
	old := preprocess.Swap(preprocess.NewRegistry(set))
	if s.results != nil {
		s.results.InvalidateAll()
	}
	if old != nil && old.Tools() != nil {
		if err := old.Tools().Close(); err != nil {
			log.Printf("[Toolchain] Error closing previous toolchain: %v", err)
		}
	}
	log.Printf("[Toolchain] Reloaded from %s", s.configPath)
	return nil
}

// EnableWatch watches the config file and reloads the toolchain when it
// changes.
func (s *Server) EnableWatch() error {
	if s.configPath == "" {
		return fmt.Errorf("no config file to watch")
	}
	watcher, err := NewWatcher(s.configPath, func(string) error {
		return s.ReloadToolchain()
	}, s.debug)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	s.watcher = watcher
	s.watcher.Start()

	log.Printf("[Watch] Config watcher started for %s", s.configPath)
	return nil
}

// StopWatch stops the config watcher if it's running.
func (s *Server) StopWatch() error {
	if s.watcher != nil {
		w := s.watcher
		s.watcher = nil
		return w.Stop()
	}
	return nil
}

// Close closes every editor connection and stops background loops.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		_ = s.StopWatch()

		s.connMu.Lock()
		for conn := range s.connections {
			_ = conn.Close()
		}
		s.connMu.Unlock()

		s.cancel()
		<-s.rateLimitDone
		<-s.sweepDone
		s.previews.Stop()
		if s.results != nil {
			s.results.Stop()
		}
	})
}
