package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"synopsis/internal/backup"
	"synopsis/internal/blob"
	"synopsis/internal/config"
	"synopsis/internal/core"
	"synopsis/internal/infra/persistence/memory"
	"synopsis/internal/metrics"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfgFile string
	trace   bool

	cfg      *config.Config
	log      *logrus.Logger
	recorder *metrics.Recorder
}

func newRootCmd() *cobra.Command {
	a := &app{log: logrus.New()}
	root := &cobra.Command{
		Use:   "synopsis",
		Short: "Inventory of monitored hosts, services and their groups",
		Long: `synopsis keeps the inventory a monitoring system checks: hosts, the
services running on them, and named groups of either.

The store is selected by configuration (sqlite, postgres, bolt or memory).
Backups are JSON snapshots written to a filesystem directory or an S3 bucket.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default: ./synopsis.yaml)")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "write a JSON trace span per operation to stderr")

	root.AddCommand(
		newMigrateCmd(a),
		newSeedCmd(a),
		newHostsCmd(a),
		newGroupsCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newMetricsCmd(a),
	)
	return root
}

func (a *app) init(stderr io.Writer) error {
	cfg, err := config.Load(a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log.SetOutput(stderr)
	setupLogging(a.log, cfg.Logging)
	if cfg.Metrics.Enabled {
		a.recorder = metrics.New(cfg.Metrics.Namespace)
	}
	return nil
}

func setupLogging(log *logrus.Logger, cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}

// openStore opens the configured store with logging and commit metrics
// attached.
func (a *app) openStore(ctx context.Context) (core.Store, error) {
	opts := []memory.Option{memory.WithLogger(a.log)}
	if a.recorder != nil {
		opts = append(opts, memory.WithObserver(a.recorder))
	}
	store, err := core.OpenPersistentStore(ctx, a.cfg.Storage, core.NewDefaultRulesEngine(), opts...)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.cfg.Storage.Driver, err)
	}
	return store, nil
}

func (a *app) service(store core.Store, stderr io.Writer) *core.Service {
	opts := []core.ServiceOption{core.WithLogger(a.log)}
	if a.recorder != nil {
		opts = append(opts, core.WithMetricsRecorder(a.recorder))
	}
	if a.trace {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	return core.NewService(store, opts...)
}

func (a *app) backups(ctx context.Context) (*backup.Manager, error) {
	store, err := blob.Open(ctx, a.cfg.BlobOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s blob store: %w", a.cfg.Blob.Driver, err)
	}
	return backup.NewManager(store, a.cfg.Blob.Prefix, a.log), nil
}

// withStore runs fn against a freshly opened store and closes it afterwards.
func (a *app) withStore(cmd *cobra.Command, fn func(core.Store, *core.Service) error) error {
	store, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			a.log.WithError(cerr).Warn("close store")
		}
	}()
	return fn(store, a.service(store, cmd.ErrOrStderr()))
}
