package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/sells-group/product-fusion/internal/model"
	"github.com/sells-group/product-fusion/internal/resilience"
)

// FormatReport generates a human-readable summary of a fusion run.
func FormatReport(runID, verticalID string, observations int, batch *Batch, changed int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Fusion Report: %s\n", verticalID)
	fmt.Fprintf(&b, "Run: %s\n\n", runID)

	// Summary.
	rejections := make(map[model.ErrorCategory]int)
	var excluded, conflicts int
	for _, rec := range batch.Records {
		if rec.Excluded {
			excluded++
		}
		for _, a := range rec.Attributes {
			if a.HasConflicts {
				conflicts++
			}
		}
		for _, r := range rec.Rejections {
			rejections[r.Category]++
		}
	}

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Observations: %d\n", observations)
	fmt.Fprintf(&b, "- Records: %d (%d excluded)\n", len(batch.Records), excluded)
	fmt.Fprintf(&b, "- Dead-lettered: %d\n", len(batch.DeadLetters))
	fmt.Fprintf(&b, "- Conflicting attributes: %d\n", conflicts)
	fmt.Fprintf(&b, "- Changed fields since last run: %d\n\n", changed)

	// Phase results.
	b.WriteString("## Phases\n")
	for _, p := range batch.Phases {
		fmt.Fprintf(&b, "- %s: %s (%dms)\n", p.Name, p.Status, p.Duration)
		if p.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", p.Error)
		}
	}
	b.WriteString("\n")

	// Rejections by category.
	b.WriteString("## Rejections\n")
	if len(rejections) == 0 {
		b.WriteString("No rejections.\n\n")
	} else {
		cats := make([]model.ErrorCategory, 0, len(rejections))
		for c := range rejections {
			cats = append(cats, c)
		}
		slices.Sort(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "- %s: %d\n", c, rejections[c])
		}
		b.WriteString("\n")
	}

	// Score statistics.
	b.WriteString("## Scores\n")
	if len(batch.Cardinalities) == 0 {
		b.WriteString("No scores.\n\n")
	} else {
		names := make([]string, 0, len(batch.Cardinalities))
		for n := range batch.Cardinalities {
			names = append(names, n)
		}
		slices.Sort(names)
		for _, name := range names {
			c := batch.Cardinalities[name]
			fmt.Fprintf(&b, "- **%s**: n=%d min=%.2f avg=%.2f max=%.2f\n", name, c.Count, c.Min, c.Avg, c.Max)
		}
		b.WriteString("\n")
	}

	// Dead letters.
	if len(batch.DeadLetters) > 0 {
		b.WriteString("## Dead Letters\n")
		for _, e := range batch.DeadLetters {
			fmt.Fprintf(&b, "- %s [%s/%s]: %s\n", productLabel(e), e.Category, e.ErrorType, e.Error)
		}
	}

	return b.String()
}

func productLabel(e resilience.DLQEntry) string {
	if e.ProductID == "" {
		return "(no identity)"
	}
	return e.ProductID
}
