package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/resilience"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Inspect the dead letter queue",
	Long:  "Dead-lettered products keep their observations so they can be exported and resubmitted with run --observations.",
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered products",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, dlqFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "dlq list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Dead letter queue is empty.")
			return nil
		}
		formatDLQList(os.Stdout, entries)
		return nil
	},
}

var dlqExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the observations of dead-lettered products as JSON lines",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListDLQ(ctx, dlqFilterFromFlags(cmd))
		if err != nil {
			return eris.Wrap(err, "dlq export")
		}

		exported, n, err := exportDLQ(os.Stdout, entries)
		if err != nil {
			return err
		}

		if purge, _ := cmd.Flags().GetBool("purge"); purge {
			for _, id := range exported {
				if err := st.RemoveDLQ(ctx, id); err != nil {
					return eris.Wrapf(err, "dlq remove %s", id)
				}
			}
		}
		fmt.Fprintf(os.Stderr, "Exported %d observations from %d of %d entries.\n", n, len(exported), len(entries))
		return nil
	},
}

var dlqRemoveCmd = &cobra.Command{
	Use:   "remove <entry-id>",
	Short: "Remove a dead letter entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		return eris.Wrap(st.RemoveDLQ(ctx, args[0]), "dlq remove")
	},
}

func init() {
	for _, c := range []*cobra.Command{dlqListCmd, dlqExportCmd} {
		c.Flags().String("run", "", "filter by run id")
		c.Flags().String("category", "", "filter by error category (fatal, insufficient_data, ...)")
		c.Flags().Int("limit", 100, "max number of entries")
	}
	dlqExportCmd.Flags().Bool("purge", false, "remove exported entries from the queue")

	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqExportCmd)
	dlqCmd.AddCommand(dlqRemoveCmd)
	rootCmd.AddCommand(dlqCmd)
}

func dlqFilterFromFlags(cmd *cobra.Command) resilience.DLQFilter {
	runID, _ := cmd.Flags().GetString("run")
	category, _ := cmd.Flags().GetString("category")
	limit, _ := cmd.Flags().GetInt("limit")
	return resilience.DLQFilter{
		RunID:    runID,
		Category: model.ErrorCategory(category),
		Limit:    limit,
	}
}

// exportDLQ writes the observations of replayable entries as JSON lines.
// Entries without product identity are skipped since they would be
// dead-lettered again. Returns the exported entry ids and the number of
// observations written.
func exportDLQ(w io.Writer, entries []resilience.DLQEntry) ([]string, int, error) {
	enc := json.NewEncoder(w)
	var (
		ids []string
		n   int
	)
	for _, e := range entries {
		if !e.Replayable() {
			continue
		}
		for _, obs := range e.Observations {
			if err := enc.Encode(obs); err != nil {
				return ids, n, eris.Wrap(err, "dlq export: encode observation")
			}
			n++
		}
		ids = append(ids, e.ID)
	}
	return ids, n, nil
}

// formatDLQList writes a tabular list of dead letter entries to w.
func formatDLQList(out io.Writer, entries []resilience.DLQEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tRUN\tPRODUCT\tSTAGE\tCATEGORY\tOBS\tERROR")
	for _, e := range entries {
		product := e.ProductID
		if product == "" {
			product = "(no identity)"
		}
		msg := e.Error
		if len(msg) > 60 {
			msg = msg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(e.ID), truncateID(e.RunID), product, e.Stage, e.Category, len(e.Observations), msg)
	}
	_ = w.Flush()
}
