// Command amaranthine is the CLI for the amaranthine knowledge store:
// store/search/delete/update plus maintenance commands and the stdio RPC
// server used by tool-calling assistants.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/amaranthine/internal/config"
	"github.com/dshills/amaranthine/internal/corpus"
	"github.com/dshills/amaranthine/internal/datalog"
	searchpkg "github.com/dshills/amaranthine/internal/search"
	storepkg "github.com/dshills/amaranthine/internal/store"
	"github.com/dshills/amaranthine/pkg/types"
)

var version = "dev"

var (
	flagDir     string
	flagPlain   bool
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "amaranthine",
		Short:         "Persistent knowledge store for long-lived coding assistants",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "data directory (default $AMARANTHINE_DIR or $HOME/.amaranthine)")
	rootCmd.PersistentFlags().BoolVar(&flagPlain, "plain", false, "plain output (no ANSI)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging to stderr")

	rootCmd.AddCommand(storeCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(updateCmd())
	rootCmd.AddCommand(renameCmd())
	rootCmd.AddCommand(topicsCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(compactCmd())
	rootCmd.AddCommand(rebuildCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "amaranthine:", err)
		os.Exit(types.ExitCodeOf(err))
	}
}

// app bundles the engine stack for one CLI invocation.
type app struct {
	dir      string
	log      *datalog.Log
	cache    *corpus.Cache
	settings config.Settings
	engine   *searchpkg.Engine
	coord    *storepkg.Coordinator
}

func newApp() (*app, error) {
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	dir, err := config.ResolveDir(flagDir)
	if err != nil {
		return nil, err
	}
	settings, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	l := datalog.New(dir)
	cache := corpus.NewCache(l)
	return &app{
		dir:      dir,
		log:      l,
		cache:    cache,
		settings: settings,
		engine:   searchpkg.NewEngine(dir, l, cache, settings),
		coord:    storepkg.New(dir, l, cache, settings, logger),
	}, nil
}
