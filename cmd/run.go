package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/product-fusion/internal/attribute"
	"github.com/sells-group/product-fusion/internal/fetcher"
	"github.com/sells-group/product-fusion/internal/ingest"
	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/pipeline"
	"github.com/sells-group/product-fusion/internal/vertical"
)

// runInputs lists the sources of one batch.
type runInputs struct {
	Observations []string
	Prices       []string
	Feeds        []string
}

var (
	runVertical string
	runInput    runInputs
	runReport   bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fuse one batch of observations",
	Long:  "Reads observation files, price CSVs and datasource feeds, fuses them into canonical records and persists the batch.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("run"); err != nil {
			return err
		}

		vc, err := loadVertical(runVertical)
		if err != nil {
			return err
		}

		observations, err := collectObservations(ctx, vc, runInput, time.Now().UTC())
		if err != nil {
			return err
		}
		if len(observations) == 0 {
			return eris.New("run: no observations to fuse (use --observations, --prices or --feeds)")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := pipeline.New(cfg, vc, st, attribute.DefaultRegistry())
		if err != nil {
			return eris.Wrap(err, "build pipeline")
		}

		result, err := p.Run(ctx, observations)
		if err != nil {
			return eris.Wrap(err, "pipeline run")
		}

		zap.L().Info("fusion complete",
			zap.String("run_id", result.RunID),
			zap.String("vertical", vc.ID),
			zap.Int("records", result.Summary.Records),
			zap.Int("rejections", result.Summary.Rejections),
			zap.Int("dead_lettered", result.Summary.DeadLettered),
		)

		if runReport {
			fmt.Fprintln(os.Stderr, result.Report)
		}
		return writeRunSummary(os.Stdout, result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runVertical, "vertical", "", "vertical definition (default from config)")
	runCmd.Flags().StringSliceVar(&runInput.Observations, "observations", nil, "observation file, JSON array or JSON lines (- for stdin)")
	runCmd.Flags().StringSliceVar(&runInput.Prices, "prices", nil, "price quote CSV file")
	runCmd.Flags().StringSliceVar(&runInput.Feeds, "feeds", nil, "datasource feeds to load (all for every feed of the vertical)")
	runCmd.Flags().BoolVar(&runReport, "report", false, "print the run report to stderr")
	rootCmd.AddCommand(runCmd)
}

// collectObservations reads every input of a batch in flag order: observation
// files, then price files, then feeds. Seq follows that order.
func collectObservations(ctx context.Context, vc *vertical.Config, in runInputs, now time.Time) ([]model.Observation, error) {
	var all []model.Observation

	for _, path := range in.Observations {
		obs, err := readInput(path, func(r io.Reader) ([]model.Observation, error) {
			return ingest.ReadObservations(ctx, r, 0)
		})
		if err != nil {
			return nil, err
		}
		zap.L().Info("read observations", zap.String("path", path), zap.Int("count", len(obs)))
		all = append(all, obs...)
	}

	for _, path := range in.Prices {
		obs, err := readInput(path, func(r io.Reader) ([]model.Observation, error) {
			obs, stats, err := ingest.ReadPriceCSV(ctx, r, now, 0)
			if stats.Invalid > 0 {
				zap.L().Warn("skipped invalid price rows", zap.String("path", path), zap.Int("invalid", stats.Invalid))
			}
			return obs, err
		})
		if err != nil {
			return nil, err
		}
		all = append(all, obs...)
	}

	if len(in.Feeds) > 0 {
		names := in.Feeds
		if len(names) == 1 && names[0] == "all" {
			names = vc.Feeds()
		}
		loader := ingest.NewLoader(fetcher.NewRouter(cfg.Fetch), cfg.Fetch.WorkDir)
		loader.SetClock(func() time.Time { return now })
		obs, _, err := loader.LoadAll(ctx, vc, names)
		if err != nil {
			return nil, eris.Wrap(err, "load feeds")
		}
		all = append(all, obs...)
	}

	ingest.Renumber(all)
	return all, nil
}

func readInput(path string, read func(io.Reader) ([]model.Observation, error)) ([]model.Observation, error) {
	if path == "-" {
		return read(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close() //nolint:errcheck
	obs, err := read(f)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return obs, nil
}

func writeRunSummary(w io.Writer, result *pipeline.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		RunID   string          `json:"run_id"`
		Changed int             `json:"changed_fields"`
		Summary model.RunResult `json:"summary"`
	}{
		RunID:   result.RunID,
		Changed: pipeline.CountChanged(result.Provenance),
		Summary: result.Summary,
	})
}
