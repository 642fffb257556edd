package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/okian/avisurv/internal/config"
	"github.com/okian/avisurv/pkg/logger"
)

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "avisurv:", err)
		os.Exit(1)
	}
}

// cli carries what every subcommand shares.
type cli struct {
	cfg    *config.Config
	out    io.Writer
	errOut io.Writer
	log    logger.Logger
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	c := &cli{out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "avisurv",
		Short: "Acoustic biosurveillance for avian mortality events",
		Long: `avisurv turns daily acoustic detections into per station/species
activity metrics, scores them against seasonal baselines together with
neighbouring stations and mortality reports, and maintains alerts.

Configuration is read from the YAML file named by AVISURV_CONFIG and from
AVISURV_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cmd.Context())
		if err != nil {
			return err
		}
		if err := logger.InitWith(c.errOut, logger.Format(cfg.LogFormat)); err != nil {
			return fmt.Errorf("init logging: %w", err)
		}
		c.log = logger.Get()
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			c.log.Warn(cmd.Context(), "invalid log_level; falling back to info",
				logger.String("log_level", cfg.LogLevel),
				logger.Error(err),
			)
			_ = logger.SetLevelString("info")
		}
		c.cfg = cfg
		return nil
	}

	cmd.AddCommand(
		newRunCmd(c),
		newRecomputeCmd(c),
		newAlertsCmd(c),
		newAckCmd(c),
		newResolveCmd(c),
		newGenerateCmd(c),
	)
	return cmd
}
