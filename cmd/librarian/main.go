// Command librarian runs the broker.
//
// Usage: librarian [hostname port]
//
// Defaults to localhost:8081. A config file (YAML or JSON) can be supplied
// with --config to enable plugins, rate limiting, and circuit breaking.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	librarian "github.com/amarack/librarian"
	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/version"

	// Register built-in plugins so they can be loaded from config.
	_ "github.com/amarack/librarian/internal/plugins/querylog"
	_ "github.com/amarack/librarian/internal/plugins/ratelimit"
	_ "github.com/amarack/librarian/internal/plugins/searchcache"
)

func main() {
	var (
		configPath   string
		printVersion bool
	)

	cmd := &cobra.Command{
		Use:          "librarian [hostname port]",
		Short:        "Federated search broker for a fleet of library endpoints",
		Args:         cobra.MaximumNArgs(2),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if printVersion {
				fmt.Println("librarian", version.String())
				return nil
			}

			host, port, err := parseAddr(args, "localhost", 8081)
			if err != nil {
				return err
			}
			return run(host, port, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML or JSON config file")
	cmd.Flags().BoolVar(&printVersion, "version", false, "print version and exit")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseAddr(args []string, defaultHost string, defaultPort int) (string, int, error) {
	host, port := defaultHost, defaultPort
	if len(args) >= 1 {
		host = args[0]
	}
	if len(args) >= 2 {
		p, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		port = p
	}
	return host, port, nil
}

func run(host string, port int, configPath string) error {
	log := logging.Logger

	cfg := librarian.Config{}
	if configPath != "" {
		loaded, err := librarian.LoadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = *loaded
		log.Info("config loaded", "path", configPath, "plugins", len(cfg.Plugins))
	}

	broker, err := librarian.New(cfg)
	if err != nil {
		return err
	}
	if err := broker.LoadPlugins(); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", host, port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      broker.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", "error", err.Error())
		}
	}()

	log.Info("librarian listening", "addr", addr, "version", version.Short())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("server stopped")
	return nil
}
