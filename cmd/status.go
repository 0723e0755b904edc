package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-fusion/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show fusion health over the lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return eris.Wrap(err, "status")
		}

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		alerts := alerter.Evaluate(snap)
		if notify, _ := cmd.Flags().GetBool("notify"); notify && len(alerts) > 0 {
			alerter.SendAlerts(ctx, alerts)
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Snapshot *monitoring.MetricsSnapshot `json:"snapshot"`
				Alerts   []monitoring.Alert          `json:"alerts"`
			}{snap, alerts})
		}
		formatStatus(os.Stdout, snap, alerts)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	statusCmd.Flags().Bool("notify", false, "post triggered alerts to the configured webhook")
	statusCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}

func formatStatus(out io.Writer, snap *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", snap.LookbackHours)
	_, _ = fmt.Fprintf(w, "Runs:\t%d (%d complete, %d failed, %d active)\n",
		snap.RunsTotal, snap.RunsComplete, snap.RunsFailed, snap.RunsActive)
	_, _ = fmt.Fprintf(w, "Failure rate:\t%.1f%%\n", snap.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Records:\t%d from %d observations\n", snap.Records, snap.Observations)
	_, _ = fmt.Fprintf(w, "Rejections:\t%d (%.2f per record)\n", snap.Rejections, snap.RejectionRate)
	_, _ = fmt.Fprintf(w, "Excluded:\t%d\n", snap.Excluded)
	_, _ = fmt.Fprintf(w, "DLQ depth:\t%d\n", snap.DLQDepth)
	_ = w.Flush()

	for _, a := range alerts {
		_, _ = fmt.Fprintf(out, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}
