// Package cli implements the paddock command line.
package cli

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/cache"
	"github.com/jbweber/homelab/paddock/internal/config"
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/logging"
	"github.com/jbweber/homelab/paddock/internal/repository"
)

// app carries what the subcommands share. Config and logger are loaded
// before every command; the database is opened on demand.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *zap.Logger
	db     *sql.DB
	repos  repository.Repositories
	daemon *daemon.Client
}

// flagKeys maps flags to their configuration keys
var flagKeys = map[string]string{
	"config":    "config",
	"port":      "port",
	"db-path":   "db_path",
	"panel-url": "panel_url",
	"log-level": "log.level",
	"log-json":  "log.json",
}

// NewRootCommand builds the command tree
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:   "paddock",
		Short: "Game server panel control plane",
		Long: `paddock manages the nodes, allocations and servers of a game server panel
and talks to the daemon running on each node.

Configuration is read from paddock.yaml, PADDOCK_* environment variables
and flags, in increasing precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.close()
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true

	flags := root.PersistentFlags()
	flags.String("config", "", "Config file (default ./paddock.yaml)")
	flags.String("db-path", "", "SQLite database path")
	flags.String("panel-url", "", "URL daemons use to reach the panel")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")

	root.AddCommand(
		newServeCommand(a),
		newRebuildCommand(a),
		newNodeCommand(a),
		newKeyCommand(),
	)
	return root
}

// Execute runs the command tree
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// bindFlags binds the persistent flags that were set to their config keys
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var result error
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result
}

func (a *app) load(cmd *cobra.Command) error {
	if err := bindFlags(cmd, a.v); err != nil {
		return fmt.Errorf("failed to bind flags: %w", err)
	}

	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// open connects the database, repositories and daemon client
func (a *app) open() error {
	codec, err := a.cfg.Codec()
	if err != nil {
		return err
	}

	db, err := a.cfg.InitializeDatabase()
	if err != nil {
		return err
	}
	a.db = db
	a.repos = repository.NewRepositories(db, codec)
	a.daemon = daemon.NewClient(daemon.Options{
		ConnectTimeout: a.cfg.Daemon.ConnectTimeout,
		RequestTimeout: a.cfg.Daemon.RequestTimeout,
		Cache:          cache.New(nil),
		Logger:         a.logger.Named("daemon"),
	})
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Failed to close database", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync() // stderr sync fails on some terminals
	}
}
