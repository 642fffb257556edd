package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	service "github.com/okian/avisurv/internal/app"
	"github.com/okian/avisurv/internal/domain/alerting"
	"github.com/okian/avisurv/internal/domain/model"
	"github.com/okian/avisurv/internal/synthetic"
	"github.com/okian/avisurv/pkg/metrics"
)

func newRunCmd(c *cli) *cobra.Command {
	var (
		batchesPath  string
		stationsPath string
		textfile     string
	)
	cmd := &cobra.Command{
		Use:   "run --batches FILE [--stations FILE]",
		Short: "Ingest day batches and score every day they cover",
		Long: `Ingest JSON-lines day batches, then score the covered days in date
order. Baselines are recomputed whenever a new ISO week starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			batches, err := readJSONLines[model.DayBatch](batchesPath)
			if err != nil {
				return err
			}
			svc, err := c.newService(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if stationsPath != "" {
				stations, err := readJSONLines[model.Station](stationsPath)
				if err != nil {
					return err
				}
				if err := svc.RegisterStations(ctx, stations...); err != nil {
					return err
				}
			}

			days, runErr := svc.RunDays(ctx, batches)
			printDays(c, days)
			if textfile != "" {
				if err := prometheus.WriteToTextfile(textfile, metrics.GetRegistry()); err != nil {
					return errors.Join(runErr, fmt.Errorf("write metrics: %w", err))
				}
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&batchesPath, "batches", "", "JSON-lines file of day batches")
	cmd.Flags().StringVar(&stationsPath, "stations", "", "JSON-lines file of stations to register first")
	cmd.Flags().StringVar(&textfile, "metrics-textfile", "", "write Prometheus metrics to this file when done")
	_ = cmd.MarkFlagRequired("batches")
	return cmd
}

func printDays(c *cli, days []service.DaySummary) {
	fmt.Fprintf(c.out, "%-10s %7s %6s %11s %8s %6s %7s  %s\n",
		"DATE", "METRICS", "SCORED", "NO_BASELINE", "EXCLUDED", "FAILED", "ABORTED", "ACTIONS")
	for _, d := range days {
		fmt.Fprintf(c.out, "%-10s %7d %6d %11d %8d %6d %7d  %s\n",
			d.Date.Format(time.DateOnly), d.Metrics, d.Scored, d.NoBaseline, d.Excluded, d.Failed, d.Aborted,
			formatActions(d.Actions))
	}
}

func formatActions(actions map[alerting.Action]int) string {
	parts := make([]string, 0, len(actions))
	for a, n := range actions {
		if a == alerting.ActionNone || n == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%d", a, n))
	}
	if len(parts) == 0 {
		return "-"
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

func newRecomputeCmd(c *cli) *cobra.Command {
	var week string
	cmd := &cobra.Command{
		Use:   "recompute --week YYYY-Www",
		Short: "Recompute the baselines of one ISO week",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w, err := parseWeek(week)
			if err != nil {
				return err
			}
			svc, err := c.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			sum, err := svc.RecomputeBaselines(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "%d-W%02d direct=%d pooled=%d withheld=%d failed=%d\n",
				w.Year, w.Week, sum.Direct, sum.Pooled, sum.Withheld, sum.Failed)
			return nil
		},
	}
	cmd.Flags().StringVar(&week, "week", "", "ISO week, e.g. 2024-W20")
	_ = cmd.MarkFlagRequired("week")
	return cmd
}

// parseWeek parses an ISO week of the form 2024-W20.
func parseWeek(s string) (model.Week, error) {
	var w model.Week
	if _, err := fmt.Sscanf(s, "%d-W%d", &w.Year, &w.Week); err != nil {
		return w, fmt.Errorf("invalid week %q: %w", s, err)
	}
	if w.Week < 1 || w.Week > 53 {
		return w, fmt.Errorf("invalid week %q: week out of range", s)
	}
	return w, nil
}

func newAlertsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "alerts",
		Short: "List open alerts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := c.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			alerts, err := svc.OpenAlerts(cmd.Context())
			if err != nil {
				return err
			}
			sort.Slice(alerts, func(i, j int) bool { return alerts[i].TriggeredAt.Before(alerts[j].TriggeredAt) })
			printAlerts(c, alerts)
			return nil
		},
	}
}

func printAlerts(c *cli, alerts []*model.Alert) {
	fmt.Fprintf(c.out, "%-36s %-24s %-12s %-9s %-10s %s\n", "ID", "KEY", "TYPE", "SEVERITY", "TRIGGERED", "ACK")
	for _, a := range alerts {
		ack := "-"
		if a.Acknowledged() {
			ack = a.AcknowledgedBy
		}
		fmt.Fprintf(c.out, "%-36s %-24s %-12s %-9s %-10s %s\n",
			a.ID, a.Key, a.Type, a.Severity, a.TriggeredAt.Format(time.DateOnly), ack)
	}
}

func newAckCmd(c *cli) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "ack ALERT_ID --by NAME",
		Short: "Acknowledge an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			a, err := svc.Acknowledge(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "acknowledged %s (%s, %s)\n", a.ID, a.Key, a.Severity)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "who acknowledges")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newResolveCmd(c *cli) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "resolve ALERT_ID --by NAME",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := c.newService(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			a, err := svc.Resolve(cmd.Context(), args[0], by)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "resolved %s (%s)\n", a.ID, a.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "who resolves")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}

func newGenerateCmd(c *cli) *cobra.Command {
	var (
		cfg          synthetic.Config
		from, to     string
		dieOffStart  string
		dieOff       synthetic.DieOff
		stationsPath string
		batchesPath  string
	)
	cmd := &cobra.Command{
		Use:   "generate --from DATE --to DATE",
		Short: "Write a synthetic station network and detection feed",
		Long: `Write a reproducible station network and day batches as JSON lines,
including the same ISO weeks of earlier years so baselines can form.
--die-off-start lowers activity at the first --die-off-stations stations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cfg.From, err = time.Parse(time.DateOnly, from); err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			if cfg.To, err = time.Parse(time.DateOnly, to); err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			if dieOffStart != "" {
				if dieOff.Start, err = time.Parse(time.DateOnly, dieOffStart); err != nil {
					return fmt.Errorf("invalid --die-off-start: %w", err)
				}
				cfg.DieOff = &dieOff
			}

			stations := synthetic.Stations(cfg)
			batches, err := synthetic.Batches(cmd.Context(), cfg, stations)
			if err != nil {
				return err
			}
			if err := writeJSONLinesFile(stationsPath, stations, synthetic.WriteJSONLines[model.Station]); err != nil {
				return err
			}
			if err := writeJSONLinesFile(batchesPath, batches, synthetic.WriteJSONLines[model.DayBatch]); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "wrote %d stations to %s and %d batches to %s\n",
				len(stations), stationsPath, len(batches), batchesPath)
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&cfg.Stations, "stations", 0, "number of stations")
	f.StringSliceVar(&cfg.Species, "species", nil, "species codes")
	f.Float64Var(&cfg.Latitude, "lat", 52.09, "network centre latitude")
	f.Float64Var(&cfg.Longitude, "lon", 5.12, "network centre longitude")
	f.Float64Var(&cfg.SpreadKM, "spread-km", 0, "maximum distance of a station from the centre")
	f.StringVar(&cfg.Habitat, "habitat", "", "habitat of every station")
	f.StringVar(&cfg.Region, "region", "UT", "province code of every station")
	f.StringVar(&from, "from", "", "first day, YYYY-MM-DD")
	f.StringVar(&to, "to", "", "last day, YYYY-MM-DD")
	f.IntVar(&cfg.HistoryYears, "history-years", 0, "earlier years to generate for baselines, negative disables")
	f.Float64Var(&cfg.Rate, "rate", 0, "mean qualifying detections per recording hour")
	f.Float64Var(&cfg.Noise, "noise", 0, "relative day-to-day spread of the rate")
	f.Uint64Var(&cfg.Seed, "seed", 1, "random seed")
	f.StringVar(&dieOffStart, "die-off-start", "", "first day of the die-off, YYYY-MM-DD")
	f.IntVar(&dieOff.Stations, "die-off-stations", 3, "stations affected by the die-off")
	f.Float64Var(&dieOff.Factor, "die-off-factor", 0.2, "activity multiplier during the die-off")
	f.StringVar(&stationsPath, "out-stations", "stations.jsonl", "stations output file")
	f.StringVar(&batchesPath, "out-batches", "batches.jsonl", "batches output file")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
