package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/D-E-N/PatrowlManager/config"
	"github.com/D-E-N/PatrowlManager/finding"
	"github.com/D-E-N/PatrowlManager/tracker"
)

var flagTimelineJSON bool

var timelineCmd = &cobra.Command{
	Use:   "timeline <finding-id>",
	Short: "Print the timeline of a finding",
	Long: `Rebuild a finding's timeline from the Redis store: the scan that first
reported it, every later run of the same scan definition, and the recorded
events.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(true)
		if err != nil {
			return err
		}
		defer a.Close()

		if a.cfg.Storage.Backend != config.BackendRedis {
			return fmt.Errorf("timeline requires storage.backend %q", config.BackendRedis)
		}

		ctx := cmd.Context()
		f, err := a.repo.GetFinding(ctx, args[0])
		if err != nil {
			return err
		}
		opts := append(a.cfg.Tracker.Options(), tracker.WithLogger(a.logger))
		tr := tracker.New(a.repo, opts...)
		a.logger.Debug("building timeline", "finding_id", f.ID, "match_policy", tr.Policy().String())
		timeline, err := tr.Build(ctx, f)
		if err != nil {
			return err
		}

		if flagTimelineJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(timeline)
		}
		return renderTimeline(cmd.OutOrStdout(), f, timeline)
	},
}

func init() {
	timelineCmd.Flags().BoolVar(&flagTimelineJSON, "json", false, "emit JSON")
}

func renderTimeline(w io.Writer, f *finding.Finding, timeline tracker.Timeline) error {
	fmt.Fprintf(w, "%s  [%s]  %s  (%s)\n\n", f.Title, f.Severity, f.AssetName, f.Status.DisplayName())
	if len(timeline) == 0 {
		fmt.Fprintln(w, "No history recorded.")
		return nil
	}

	data := [][]string{{"When", "Source", "Message"}}
	for _, e := range timeline {
		msg := e.Message
		if e.Level == tracker.LevelWarning {
			msg = pterm.FgYellow.Sprint(msg)
		}
		data = append(data, []string{
			e.At.Local().Format(time.DateTime),
			e.Source.String(),
			msg,
		})
	}

	out, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, out)
	return err
}
