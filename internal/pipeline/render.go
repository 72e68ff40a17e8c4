package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/bioetl/targetforge/internal/model"
)

// RenderJSON writes the run report to path as indented JSON
func RenderJSON(report *model.RunReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// RenderSummary prints the per-stage outcome table and counts
func RenderSummary(w io.Writer, report *model.RunReport) {
	fmt.Fprintf(w, "Run %s\n", report.RunID)
	for _, s := range report.Stages {
		fmt.Fprintf(w, "  %-28s %-9s %-12s %s\n", s.Stage, s.Status, s.Duration.Round(time.Millisecond), s.Detail)
	}
	fmt.Fprintf(w, "Targets: %d  Annotations: %d  Hits: %d\n", report.TargetCount, report.AnnotationCount, report.HitCount)
	if len(report.Warnings) > 0 {
		fmt.Fprintf(w, "Warnings (%d):\n", len(report.Warnings))
		for _, warning := range report.Warnings {
			fmt.Fprintf(w, "  - %s\n", warning)
		}
	}
}
