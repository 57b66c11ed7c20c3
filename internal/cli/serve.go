package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/api"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/nodes"
	"github.com/jbweber/homelab/paddock/internal/rebuild"
	"github.com/jbweber/homelab/paddock/internal/servers"
)

const shutdownTimeout = 15 * time.Second

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.open(); err != nil {
				return err
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().String("port", "", "Listen port (default 8080)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	creator := servers.NewCreator(servers.Options{
		DB:     a.db,
		Repos:  a.repos,
		Daemon: a.daemon,
		Logger: a.logger.Named("servers"),
		Warnings: func(server domain.Server, err error) {
			a.logger.Warn("Server created but the daemon could not provision it",
				zap.Int64("server_id", server.ID),
				zap.String("server", server.Name),
				zap.Int64("node_id", server.NodeID),
				zap.Error(err))
		},
	})

	handlers := api.NewAPI(api.Deps{
		Nodes:       nodes.NewService(a.repos, a.cfg.PanelURL, a.logger.Named("nodes")),
		Daemon:      a.daemon,
		Allocations: a.repos.Allocations,
		Eggs:        a.repos.Eggs,
		Mounts:      a.repos.Mounts,
		Servers:     a.repos.Servers,
		Creator:     creator,
		Rebuilder: rebuild.New(rebuild.Options{
			Repos:       a.repos,
			Daemon:      a.daemon,
			Concurrency: a.cfg.Rebuild.Concurrency,
			Logger:      a.logger.Named("rebuild"),
		}),
		Logger: a.logger.Named("api"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(api.RequestLogger(a.logger.Named("http")))
	r.Use(middleware.Recoverer)
	handlers.RegisterRoutes(r)

	// Health check endpoint
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "Paddock panel is running!"); err != nil {
			a.logger.Warn("Failed to write response", zap.Error(err))
		}
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", a.cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting paddock API", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
	}

	// provisioning calls outlive their request
	creator.Wait()
	return nil
}
