package batch

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"

	"koi-classifier/internal/ml"
)

// Reporter writes a batch report in several formats.
type Reporter struct {
	report     *Report
	outputPath string
}

// NewReporter creates a new reporter
func NewReporter(report *Report, outputPath string) *Reporter {
	return &Reporter{
		report:     report,
		outputPath: outputPath,
	}
}

// GenerateReport writes the summary, row log and JSON report into the
// output directory.
func (r *Reporter) GenerateReport() error {
	if err := os.MkdirAll(r.outputPath, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	outputs := []struct {
		name  string
		write func(io.Writer, *Report) error
	}{
		{"summary.txt", WriteSummary},
		{"predictions.csv", WriteCSV},
		{"report.json", WriteJSON},
	}
	for _, o := range outputs {
		path := filepath.Join(r.outputPath, o.name)
		if err := writeFile(path, r.report, o.write); err != nil {
			return err
		}
		log.Info().Str("file", path).Msg("Report generated")
	}
	return nil
}

func writeFile(path string, rep *Report, write func(io.Writer, *Report) error) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Base(path), err)
	}
	if err := write(file, rep); err != nil {
		file.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return file.Close()
}

// WriteJSON writes the report as indented JSON.
func WriteJSON(w io.Writer, rep *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

// WriteCSV writes one line per row with the probabilities in FALSE POSITIVE,
// CANDIDATE, CONFIRMED order.
func WriteCSV(w io.Writer, rep *Report) error {
	writer := csv.NewWriter(w)

	header := []string{"row_number", "prediction", "p_false_positive", "p_candidate", "p_confirmed", "error"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rep.Results {
		record := []string{strconv.Itoa(row.RowNumber), row.Prediction, "", "", "", row.Error}
		for i, p := range row.Proba {
			record[2+i] = strconv.FormatFloat(p, 'f', 6, 64)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSummary writes a human-readable summary.
func WriteSummary(w io.Writer, rep *Report) error {
	s := rep.Summary
	lines := []string{
		"BATCH PREDICTION SUMMARY",
		"========================",
		"",
		fmt.Sprintf("Run ID: %s", rep.RunID),
		fmt.Sprintf("Created: %s", rep.CreatedAt.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("Source: %s", orDash(rep.Source)),
		fmt.Sprintf("Bundle: %s (stats: %s)", rep.BundleVersion, rep.StatsMode),
		fmt.Sprintf("Duration: %s", rep.Duration),
		"",
		"OUTCOMES",
		"--------",
		fmt.Sprintf("Rows Processed: %d", s.TotalRows),
		fmt.Sprintf("%s: %d", ml.LabelConfirmed, s.Confirmed),
		fmt.Sprintf("%s: %d", ml.LabelCandidate, s.Candidates),
		fmt.Sprintf("%s: %d", ml.LabelFalsePositive, s.FalsePositives),
		fmt.Sprintf("Errors: %d", s.Errors),
	}

	if s.Errors > 0 {
		lines = append(lines, "", "FAILED ROWS", "-----------")
		for _, row := range rep.Results {
			if row.Error != "" {
				lines = append(lines, fmt.Sprintf("Row %d [%s]: %s", row.RowNumber, row.ErrorKind, row.Error))
			}
		}
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
