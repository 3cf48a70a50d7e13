// Command endpoint runs a sample library endpoint backed by the in-memory
// store.
//
// Usage: endpoint [myHost myPort [libHost libPort]]
//
// Defaults to serving on localhost:8082 and joining the broker at
// localhost:8081.
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

	"github.com/amarack/librarian/endpoint"
	"github.com/amarack/librarian/endpoint/memstore"
	"github.com/amarack/librarian/internal/logging"
	"github.com/amarack/librarian/internal/version"
)

func main() {
	var (
		groupID      string
		requestedKey string
		printVersion bool
	)

	cmd := &cobra.Command{
		Use:          "endpoint [myHost myPort [libHost libPort]]",
		Short:        "Sample library endpoint serving the built-in corpus",
		Args:         cobra.MaximumNArgs(4),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if printVersion {
				fmt.Println("endpoint", version.String())
				return nil
			}

			opts, err := parseArgs(args)
			if err != nil {
				return err
			}
			opts.GroupID = groupID
			opts.RequestedKey = requestedKey
			return run(opts)
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "", "replica group to join (default: a fresh group)")
	cmd.Flags().StringVar(&requestedKey, "key", "", "endpoint key to request (default: broker-assigned)")
	cmd.Flags().BoolVar(&printVersion, "version", false, "print version and exit")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func parseArgs(args []string) (endpoint.Options, error) {
	opts := endpoint.Options{
		Hostname:       "localhost",
		Port:           8082,
		BrokerHostname: "localhost",
		BrokerPort:     8081,
	}
	if len(args) == 1 || len(args) == 3 {
		return opts, fmt.Errorf("expected host/port pairs, got %d argument(s)", len(args))
	}
	if len(args) >= 2 {
		port, err := strconv.Atoi(args[1])
		if err != nil {
			return opts, fmt.Errorf("invalid port %q: %w", args[1], err)
		}
		opts.Hostname, opts.Port = args[0], port
	}
	if len(args) == 4 {
		port, err := strconv.Atoi(args[3])
		if err != nil {
			return opts, fmt.Errorf("invalid broker port %q: %w", args[3], err)
		}
		opts.BrokerHostname, opts.BrokerPort = args[2], port
	}
	return opts, nil
}

func run(opts endpoint.Options) error {
	log := logging.Logger

	store := memstore.Sample()
	opts.SupportedTypes = store.SupportedTypes()
	opts.DynamicTransforms = store.DynamicTransforms()

	h := endpoint.New(store, opts)

	addr := fmt.Sprintf("%s:%d", opts.Hostname, opts.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      h.Routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info("endpoint listening", "addr", addr, "version", version.Short())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Register with the broker once the server is up; requests arrive only
	// after the broker acknowledges.
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err := h.Connect(connectCtx)
	cancel()
	if err != nil {
		_ = srv.Close()
		return err
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	h.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err.Error())
	}
	return nil
}
