package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/processing"
)

func notifyCmd(configPath *string) *cobra.Command {
	var environment string

	cmd := &cobra.Command{
		Use:   "notify <start|end> <dcid>",
		Short: "Send one processing notification for a collection",
		Long: `Send a start or end notification for a data collection to the analysis
service through the configured broker environment.

A session is opened for this one message and closed afterwards. Nothing is
retried; a failure is reported exactly as the broker returned it.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			event, dcid, err := parseNotifyArgs(args)
			if err != nil {
				return err
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			procCfg := cfg.Processing
			if environment != "" {
				procCfg.Environment = environment
			}

			trigger := newTrigger(procCfg)
			trigger.SetLogger(logging.New(cfg.Logging, version).With("component", "trigger"))

			start := time.Now()
			if err := trigger.Notify(cmd.Context(), event, dcid); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s notification for collection %d via %s (%v)\n",
				color.New(color.FgGreen).Sprint("sent"),
				event, dcid, trigger.Environment(),
				time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "broker environment (overrides processing.environment)")
	return cmd
}

func parseNotifyArgs(args []string) (processing.Event, int64, error) {
	event, err := processing.ParseEvent(args[0])
	if err != nil {
		return "", 0, err
	}
	dcid, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || dcid <= 0 {
		return "", 0, fmt.Errorf("dcid must be a positive integer, got %q", args[1])
	}
	return event, dcid, nil
}
