package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// RequiredColumns are the CSV columns MatchCSV needs.
var RequiredColumns = []string{"period", "impact", "depth"}

// RowDetection is the outcome for one CSV row. RowNumber is 1-based.
type RowDetection struct {
	RowNumber int `json:"row_number"`
	*Detection
	Error string `json:"error,omitempty"`
}

// DetectionSummary counts the outcomes of a CSV match.
type DetectionSummary struct {
	TotalRows       int `json:"total_rows_processed"`
	ExoplanetsFound int `json:"exoplanets_found"`
	NonExoplanets   int `json:"non_exoplanets"`
	Errors          int `json:"errors"`
}

// MatchCSV matches every row of a CSV table with period, impact and depth
// columns. Rows that fail keep their position with an error.
func (c *Catalog) MatchCSV(r io.Reader, maxRows int) ([]RowDetection, DetectionSummary, error) {
	var summary DetectionSummary
	if c == nil || len(c.entries) == 0 {
		return nil, summary, ErrCatalogUnavailable
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, summary, fmt.Errorf("failed to read CSV header: %w", err)
	}
	indices := make(map[string]int, len(header))
	for i, col := range header {
		indices[strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := indices[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, summary, fmt.Errorf("missing required columns: %v; required columns are: %v", missing, RequiredColumns)
	}

	var out []RowDetection
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, summary, fmt.Errorf("failed to read CSV row %d: %w", len(out)+1, err)
		}
		if maxRows > 0 && len(out) >= maxRows {
			return nil, summary, fmt.Errorf("input exceeds row limit of %d", maxRows)
		}

		row := RowDetection{RowNumber: len(out) + 1}
		p, err := paramsFrom(record, indices)
		if err == nil {
			row.Detection, err = c.Match(p)
		}
		if err != nil {
			row.Error = err.Error()
			summary.Errors++
		} else if row.IsExoplanet {
			summary.ExoplanetsFound++
		}
		out = append(out, row)
	}

	summary.TotalRows = len(out)
	summary.NonExoplanets = summary.TotalRows - summary.ExoplanetsFound - summary.Errors
	return out, summary, nil
}

func paramsFrom(record []string, indices map[string]int) (Params, error) {
	var vals [3]float64
	for i, col := range RequiredColumns {
		idx := indices[col]
		if idx >= len(record) {
			return Params{}, fmt.Errorf("%s is missing", col)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(record[idx]), 64)
		if err != nil {
			return Params{}, fmt.Errorf("%s is not a number: %q", col, record[idx])
		}
		vals[i] = v
	}
	return Params{Period: vals[0], Impact: vals[1], Depth: vals[2]}, nil
}
