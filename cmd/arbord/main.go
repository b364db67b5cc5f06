package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/api"
	"github.com/arborfs/arbor/internal/config"
	"github.com/arborfs/arbor/internal/logging"
	"github.com/arborfs/arbor/internal/ops"
	"github.com/arborfs/arbor/internal/session"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/internal/vcs"
	"github.com/arborfs/arbor/internal/watch"
)

var version = "dev"

func main() {
	var (
		cfgPath string
		addr    string
	)

	rootCmd := &cobra.Command{
		Use:   "arbord [directory]",
		Short: "Arbor directory tree server",
		Long: `arbord serves a live model of a directory tree to connected clients.

It watches the filesystem for changes, overlays git status, and executes
file operations on behalf of sessions connected over websocket.`,
		Args:    cobra.MaximumNArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if addr != "" {
				cfg.Addr = addr
			}
			if len(args) == 1 {
				cfg.Root = args[0]
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			return run(cfg)
		},
	}

	rootCmd.Flags().StringVar(&cfgPath, "config", "", "config file path")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "arbord:", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	if err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logging.Sync()
	log := logging.L()

	store, err := tree.New(cfg.Root)
	if err != nil {
		return fmt.Errorf("open root %s: %w", cfg.Root, err)
	}
	log.Info("arbord: serving directory", zap.String("root", store.Root()))

	var watcher *watch.Adapter
	if cfg.Watcher.Enabled {
		watcher = watch.New(watch.Config{
			Debounce:   cfg.Debounce,
			RetryDelay: cfg.Watcher.RetryDelay,
			MaxRetries: cfg.Watcher.MaxRetries,
		}, log)
		watcher.Start()
		defer watcher.Close()
	} else {
		log.Info("arbord: filesystem watch disabled, clients must refresh manually")
	}

	var overlay *vcs.Overlay
	if cfg.Vcs.Enabled {
		overlay = vcs.New(vcs.Config{
			GitBin:   cfg.Vcs.GitBin,
			Timeout:  cfg.Vcs.Timeout,
			Debounce: cfg.Debounce,
		}, log)
		defer overlay.Close()
	} else {
		log.Info("arbord: vcs overlay disabled")
	}

	engine := ops.New(ops.Config{
		TrashEnabled: cfg.Trash.Enabled,
		TrashDir:     cfg.Trash.Dir,
	}, store, log)

	mgr := session.NewManager(session.Config{
		DefaultShowHidden: cfg.ShowHidden,
		Buffer:            cfg.SessionBuffer,
	}, store, overlay, watcher, engine, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go mgr.Run(ctx)

	srv := api.NewServer(mgr, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr)
	}()
	log.Info("arbord: listening", zap.String("addr", cfg.Addr))

	select {
	case <-ctx.Done():
		log.Info("arbord: shutting down")
		if err := srv.Close(); err != nil {
			log.Warn("arbord: server close failed", zap.Error(err))
		}
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}
