package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/preprocess"
	"github.com/codezoo/codezoo/internal/server"
	"github.com/codezoo/codezoo/internal/toolchain"
)

const shutdownTimeout = 10 * time.Second

type serveOptions struct {
	host   string
	port   int
	watch  bool
	noExec bool
}

func newServeCommand(root *rootOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the codezoo server",
		Long: `Start the codezoo HTTP server. Pending database migrations are
applied first.

Examples:
  codezoo serve
  codezoo serve --port 3000 --db ./pens.db
  codezoo serve --config codezoo.yaml --watch
  codezoo serve --driver postgres --db "postgres://localhost/codezoo?sslmode=disable"`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.host, "host", "", "Host to bind (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (overrides config)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Reload the toolchain when the config file changes")
	cmd.Flags().BoolVar(&opts.noExec, "no-exec", false, "Disable preprocessors that run external commands")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, opts *serveOptions) error {
	cfg, configPath, err := root.loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("host") {
		cfg.Server.Host = opts.host
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = opts.port
	}
	if opts.watch && configPath == "" {
		return fmt.Errorf("--watch needs a config file")
	}
	config.SetAllowExec(!opts.noExec)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	if _, err := st.Migrate(ctx); err != nil {
		return err
	}

	set, err := toolchain.Load(ctx, cfg.Toolchain, baseDir(configPath))
	if err != nil {
		return fmt.Errorf("failed to load toolchain: %w", err)
	}
	preprocess.Swap(preprocess.NewRegistry(set))
	defer func() {
		// The watcher may have swapped in a newer toolchain.
		if tools := preprocess.Default().Tools(); tools != nil {
			_ = tools.Close()
		}
	}()

	srv := server.New(server.Options{
		Config:     cfg,
		Store:      st,
		ConfigPath: configPath,
	})
	defer srv.Close()

	if opts.watch {
		if err := srv.EnableWatch(); err != nil {
			return fmt.Errorf("failed to enable watch mode: %w", err)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render("codezoo")+" "+labelStyle.Render(getVersion()))
	fmt.Fprintln(out)
	fmt.Fprintln(out, field("Database", fmt.Sprintf("%s (%s)", st.Driver(), cfg.Database.GetDSN())))
	if configPath != "" {
		fmt.Fprintln(out, field("Config", configPath))
	}
	fmt.Fprintln(out, field("Listening", urlStyle.Render("http://"+cfg.Server.Addr())))
	if opts.watch {
		fmt.Fprintln(out, field("Watch", "reloading the toolchain when "+configPath+" changes"))
	}
	if opts.noExec {
		fmt.Fprintln(out, warnStyle.Render("External preprocessors disabled (--no-exec)"))
	}
	fmt.Fprintln(out, labelStyle.Render("Press Ctrl+C to stop"))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(out, labelStyle.Render("Shutting down..."))
	// Hijacked editor connections are not tracked by http.Server.
	srv.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
