package main

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/beamline-core/internal/infrastructure/config"
	"github.com/nerrad567/beamline-core/internal/infrastructure/logging"
	"github.com/nerrad567/beamline-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/beamline-core/internal/processing"
)

func resultsCmd(configPath *string) *cobra.Command {
	var (
		timeout time.Duration
		dcid    int64
	)

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Wait for the next result set and print it",
		Long: `Connect to the bus, arm a result collector and wait for the analysis
service to publish a result set. Results are printed in the order the
service ranked them; the first row is the strongest feature.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if timeout <= 0 {
				timeout = cfg.Processing.ResultTimeout
			}

			mqttCfg := cfg.MQTT
			mqttCfg.Broker.ClientID = cfg.MQTT.Broker.ClientID + "-results"
			client, err := mqtt.ConnectSession(mqttCfg)
			if err != nil {
				return fmt.Errorf("connecting to MQTT: %w", err)
			}
			defer client.Close()
			client.SetLogger(logging.New(cfg.Logging, version))

			collector := processing.NewCollector(collectorName, timeout)
			if cmd.Flags().Changed("dcid") {
				collector.Expect(dcid)
			}
			collector.Trigger()
			if err := collector.Subscribe(client, cfg.Processing.ResultsTopic); err != nil {
				return err
			}

			if _, err := collector.Await(cmd.Context(), timeout); err != nil {
				return err
			}
			renderResults(cmd.OutOrStdout(), collector.Value())
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "how long to wait (default processing.result_timeout)")
	cmd.Flags().Int64Var(&dcid, "dcid", 0, "only accept results for this data collection")
	return cmd
}

// renderResults prints a result set as a table, strongest feature first.
func renderResults(w io.Writer, set processing.ResultSet) {
	header := color.New(color.Bold)
	highlight := color.New(color.FgGreen)

	fmt.Fprintf(w, "%s %d: %d result(s)\n", header.Sprint("Collection"), set.CollectionID, len(set.Results))
	if len(set.Results) == 0 {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("  no features found"))
		return
	}

	fmt.Fprintln(w, header.Sprintf("  %-4s %10s %12s %8s  %-26s %s", "rank", "max_count", "total_count", "voxels", "centre_of_mass", "bounding_box"))
	for i, r := range set.Results {
		row := fmt.Sprintf("  %-4d %10d %12d %8d  (%6.2f, %6.2f, %6.2f)   %v-%v",
			i, r.MaxCount, r.TotalCount, r.NVoxels,
			r.CentreOfMass[0], r.CentreOfMass[1], r.CentreOfMass[2],
			r.BoundingBox[0], r.BoundingBox[1],
		)
		if i == 0 {
			row = highlight.Sprint(row)
		}
		fmt.Fprintln(w, row)
	}
}
