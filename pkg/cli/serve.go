package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/haolipeng/trident_firewall/pkg/api"
	"github.com/haolipeng/trident_firewall/pkg/config"
	"github.com/haolipeng/trident_firewall/pkg/logging"
	"github.com/haolipeng/trident_firewall/pkg/processor"
	"github.com/haolipeng/trident_firewall/pkg/trident"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	recorderLimit   = 1000
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the management API and optional traffic replay",
		Long: `Loads config.yaml, builds the rule store from the rule directory and inline
rules, then serves the HTTP management API. When traffic.input is set the
traffic file is replayed through the same rule store.

Stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config.yaml", "Path to config file")
	return cmd
}

func runServe(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}

	// 初始化日志
	if err := logging.InitLogger(cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	recorder := logging.NewRecorder(recorderLimit)
	logrus.AddHook(recorder)

	logrus.Info("Starting trident firewall...")

	hooks, err := trident.NewHooks()
	if err != nil {
		return err
	}
	if err := hooks.Run(cfg.Firewall.Settings()); err != nil {
		return fmt.Errorf("firewall settings rejected: %w", err)
	}

	engine, err := processor.NewRuleEngineProcessor(cfg.Firewall.RuleDirectory, cfg.Firewall.Rules)
	if err != nil {
		return err
	}
	logrus.WithField("rule_count", engine.Len()).Info("Rule store loaded")

	server := api.NewServer(cfg)
	server.RegisterRuleService(api.NewRuleService(engine, recorder))
	server.RegisterMetrics(engine.Collector().Registry())

	// 等待中断信号
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Start()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logrus.Info("Shutting down API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	if cfg.Traffic.Input != "" {
		g.Go(func() error {
			summary, err := runReplay(gCtx, engine, &replayOptions{
				input:      cfg.Traffic.Input,
				output:     cfg.Traffic.Output,
				filter:     cfg.Traffic.Filter,
				workers:    cfg.Pipeline.WorkerCount,
				bufferSize: cfg.Pipeline.BufferSize,
			})
			if err != nil {
				return fmt.Errorf("traffic replay: %w", err)
			}
			logrus.WithFields(logrus.Fields{
				"read":    summary.Read,
				"skipped": summary.Skipped,
				"allowed": summary.Allowed,
				"denied":  summary.Denied,
			}).Info("Traffic replay finished")
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logrus.Info("Shutdown complete")
	return nil
}
