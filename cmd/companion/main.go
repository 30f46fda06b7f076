// Command companion runs the voice companion's local service and its
// maintenance commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"granny-companion/internal/config"
	"granny-companion/internal/observability"
	"granny-companion/internal/watcher"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	version = "0.1.0"
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "companion",
		Short:         "Voice companion service for older adults",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Path to a .env file")

	rootCmd.AddCommand(
		serveCmd(),
		loginCmd(),
		logoutCmd(),
		memoriesCmd(),
		toolsCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg := config.Load(envFile)
	observability.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	return cfg
}

func serveCmd() *cobra.Command {
	var (
		addr        string
		noAutoStart bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local service the companion window connects to",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if addr != "" {
				cfg.Addr = addr
			}
			return serve(cmd.Context(), cfg, !noAutoStart)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from COMPANION_ADDR)")
	cmd.Flags().BoolVar(&noAutoStart, "no-auto-start", false, "Wait for the window before starting a conversation")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, autoStart bool) error {
	log := observability.Logger()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	tokenWatch := watcher.New(a.server.OnAuthChange)
	if err := tokenWatch.Watch(cfg.GoogleTokenPath); err != nil {
		log.Warn("not watching google token", "path", cfg.GoogleTokenPath, "error", err)
	}
	defer tokenWatch.Shutdown()

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	httpServer := &http.Server{
		Handler:           a.server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("companion service listening", "addr", ln.Addr().String())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.server.Run(gctx)
	})

	if autoStartEnabled(cfg, autoStart) {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(cfg.AutoStartDelay):
			}
			if err := a.controller.Start(gctx); err != nil {
				log.Error("auto-start failed", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.controller.Shutdown(shutdownCtx)
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// autoStartEnabled reports whether serve opens a conversation on its own.
// A zero AUTO_START_DELAY turns it off.
func autoStartEnabled(cfg *config.Config, requested bool) bool {
	return requested && cfg.AutoStartDelay > 0
}
