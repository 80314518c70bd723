// Command bot runs the credit spread engine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/spread_engine/internal/config"
	"github.com/eddiefleurent/spread_engine/internal/models"
	"github.com/eddiefleurent/spread_engine/internal/notify"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "bot",
		Short:         "Credit spread decision engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")

	root.AddCommand(newRunCmd(&configPath), newLedgerCmd(&configPath))
	return root
}

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the trading loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bot, err := NewBot(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer bot.Close()

			return bot.Run(ctx)
		},
	}
}

func newLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	if cfg.Environment.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.Environment.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// Run drives trading cycles until ctx is canceled. Outside the management window it
// sleeps until the window opens and reconciles on resume. It returns an error only
// for failures that make continuing unsafe.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Infof("Bot starting main loop in %s mode (%d position(s) in ledger)",
		b.config.Environment.Mode, len(b.positions.All()))
	b.notifier.Notify(notify.Lifecycle(notify.EventStartup,
		fmt.Sprintf("Spread engine started in %s mode", b.config.Environment.Mode), b.now()))
	defer b.notifier.Notify(notify.Lifecycle(notify.EventShutdown, "Spread engine stopped", b.now()))

	if b.status != nil {
		go func() {
			if err := b.status.Start(); err != nil {
				b.logger.WithError(err).Error("Status server stopped")
			}
		}()
	}

	// startup always reconciles
	b.cycle.FlagReconcile()
	var lastTick time.Time

	for {
		if ctx.Err() != nil {
			return nil
		}
		now := b.now()

		if !b.config.InManagementWindow(now) {
			if err := b.cycle.MaybeSummarize(now); err != nil {
				return err
			}
			next := b.config.NextManagementOpen(now)
			b.logger.Infof("Outside management window, sleeping until %s", next.In(b.config.Location()).Format(time.RFC3339))
			if !b.sleep(ctx, next.Sub(now)) {
				return nil
			}
			b.cycle.FlagReconcile()
			lastTick = time.Time{}
			continue
		}

		if !lastTick.IsZero() && now.Sub(lastTick) > b.config.Schedule.ReconcileGap {
			b.logger.Warnf("%.0f minutes since the last cycle, reconciling", now.Sub(lastTick).Minutes())
			b.cycle.FlagReconcile()
		}
		lastTick = now

		start := time.Now()
		err := b.cycle.Run(ctx, now)
		b.metrics.RecordCycle(time.Since(start).Seconds(), err)
		if err != nil {
			if errors.Is(err, models.ErrPersistence) {
				b.logger.WithError(err).Error("Ledger persistence failed, stopping")
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			b.logger.WithError(err).Warn("Trading cycle failed")
		}

		if !b.sleep(ctx, b.config.Schedule.CheckInterval) {
			return nil
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether the full wait elapsed.
func (b *Bot) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
