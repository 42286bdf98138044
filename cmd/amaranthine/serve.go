package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/amaranthine/internal/mcp"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the JSON-RPC tool server on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol; everything else goes to stderr.
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
			server, err := mcp.NewServer(flagDir)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

			errChan := make(chan error, 1)
			go func() {
				slog.Info("amaranthine server ready, listening on stdio", "version", version)
				errChan <- server.Serve(ctx)
			}()

			select {
			case sig := <-sigChan:
				slog.Info("shutting down", "signal", sig.String())
				cancel()
				return nil
			case err := <-errChan:
				return err
			}
		},
	}
}
