package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/menta2k/gridpilot"
	"github.com/menta2k/gridpilot/internal/config"
	"github.com/menta2k/gridpilot/internal/observability"
)

// globalFlags are shared by every subcommand
type globalFlags struct {
	configFile string
	backend    string
	model      string
	dryRun     bool
	debug      bool
}

type app struct {
	flags  globalFlags
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "gridpilot",
		Short:         "Drive the desktop with natural-language commands through a vision model",
		Version:       gridpilot.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.configFile, "config", "c", "", "config file (default is "+config.GetConfigPath()+" when present)")
	pf.StringVar(&a.flags.backend, "backend", "", "oracle backend: openai, gemini, ollama, llamacpp")
	pf.StringVar(&a.flags.model, "model", "", "oracle model name")
	pf.BoolVar(&a.flags.dryRun, "dry-run", false, "log actions instead of performing them")
	pf.BoolVar(&a.flags.debug, "debug", false, "enable debug logging")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(
		newRunCmd(a),
		newReplCmd(a),
		newGridCmd(a),
		newLocateCmd(a),
		newVersionCmd(),
	)
	return root
}

// skipConfig marks commands that work without a valid oracle configuration
const skipConfig = "skip-config"

// setup loads the configuration, applies flag overrides and starts logging
func (a *app) setup(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfig] == "true" {
		logCfg := config.Default().Logger
		if a.flags.debug {
			logCfg.Level = "debug"
		}
		observability.InitializeLogger(logCfg)
		a.logger = observability.GetLogger()
		return nil
	}

	path := a.flags.configFile
	if path == "" {
		if _, err := os.Stat(config.GetConfigPath()); err == nil {
			path = config.GetConfigPath()
		}
	}

	overrides := map[string]any{}
	if a.flags.backend != "" {
		overrides["oracle.backend"] = a.flags.backend
	}
	if a.flags.model != "" {
		overrides["oracle.model"] = a.flags.model
	}
	if a.flags.dryRun {
		overrides["executor.mode"] = "dryrun"
	}
	if a.flags.debug {
		overrides["logger.level"] = "debug"
	}

	cfg, err := config.LoadWithOverrides(path, overrides)
	if err != nil {
		observability.InitializeLogger(config.Default().Logger)
		return err
	}

	observability.InitializeLogger(cfg.Logger)
	a.cfg = cfg
	a.logger = observability.GetLogger()
	a.logger.Debug("Configuration loaded", zap.String("file", path), zap.String("backend", cfg.Oracle.Backend))
	return nil
}

// newPilot builds a Pilot from the loaded configuration
func (a *app) newPilot(ctx context.Context) (*gridpilot.Pilot, error) {
	return gridpilot.New(ctx, a.cfg, a.logger)
}

// withMetrics runs fn while serving /metrics on listen, if set. The server is
// shut down when fn returns.
func withMetrics(ctx context.Context, listen string, logger *zap.Logger, fn func(context.Context) error) error {
	if listen == "" {
		return fn(ctx)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Serving metrics", zap.String("listen", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Metrics server shutdown", zap.Error(err))
			}
		}()
		return fn(gctx)
	})
	return g.Wait()
}

type stopper interface {
	Stop()
}

// interruptible returns a context that the second interrupt cancels. The
// first interrupt asks s to stop gracefully.
func interruptible(ctx context.Context, s stopper, logger *zap.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigs)
		stopping := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if stopping {
					logger.Warn("Second interrupt, aborting")
					cancel()
					return
				}
				stopping = true
				logger.Warn("Interrupt received, stopping after the current step (press Ctrl+C again to abort)")
				s.Stop()
			}
		}
	}()
	return ctx, cancel
}
