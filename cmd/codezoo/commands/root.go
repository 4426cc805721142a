// Package commands implements the codezoo command line.
package commands

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codezoo/codezoo/internal/config"
	"github.com/codezoo/codezoo/internal/store"
)

// rootOptions are the flags shared by every command.
type rootOptions struct {
	configPath string
	dbDriver   string
	dbDSN      string
	debug      bool
}

// NewRootCommand builds the codezoo command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "codezoo",
		Short: "A self-hosted front-end playground",
		Long: `codezoo is a self-hosted playground for HTML, CSS and JavaScript.
Each pen has three panes whose sources can go through a preprocessor
(Pug, Markdown, SCSS, Less, TypeScript, Babel, CoffeeScript) and render
live into a sandboxed preview.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			log.SetFlags(0)
			config.SetDebug(opts.debug)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Path to "+config.FileName+" (default: ./"+config.FileName+" if present)")
	flags.StringVar(&opts.dbDriver, "driver", "", "Database driver: sqlite or postgres (overrides config)")
	flags.StringVar(&opts.dbDSN, "db", "", "Database DSN or SQLite file (overrides config)")
	flags.BoolVar(&opts.debug, "debug", false, "Enable verbose logging")

	root.AddCommand(
		newServeCommand(opts),
		newCompileCommand(opts),
		newMigrateCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		return 1
	}
	return 0
}

// loadConfig reads the config named by --config, or ./codezoo.yaml when it
// exists, and applies the database flags. It returns the path that was read,
// empty when running on defaults.
func (o *rootOptions) loadConfig() (*config.Config, string, error) {
	path := o.configPath
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, "", fmt.Errorf("config file not found: %s", path)
		}
	} else if _, err := os.Stat(config.FileName); err == nil {
		path = config.FileName
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		if path, err = filepath.Abs(path); err != nil {
			return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
		}
	}

	if o.dbDriver != "" {
		cfg.Database.Driver = o.dbDriver
	}
	if o.dbDSN != "" {
		cfg.Database.DSN = o.dbDSN
	}
	if o.debug {
		cfg.Server.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// baseDir is where relative toolchain paths resolve.
func baseDir(configPath string) string {
	if configPath == "" {
		return "."
	}
	return filepath.Dir(configPath)
}

func openStore(ctx context.Context, cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(ctx, cfg.Database.GetDriver(), cfg.Database.GetDSN())
	if err != nil {
		return nil, err
	}
	return st, nil
}
