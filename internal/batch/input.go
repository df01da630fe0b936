package batch

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/features"
)

// ErrTooManyRows is returned when an input exceeds the configured row limit.
var ErrTooManyRows = errors.New("input exceeds row limit")

// Input is a parsed batch table. Rows that could not be parsed keep their
// position in Records as an empty record and are listed in Invalid.
type Input struct {
	Source  string
	Records []features.Record
	Invalid map[int]error
}

// Len returns the number of data rows, valid or not.
func (in *Input) Len() int { return len(in.Records) }

var rawColumn = func() map[string]bool {
	m := make(map[string]bool, len(features.RawColumns))
	for _, c := range features.RawColumns {
		m[c] = true
	}
	return m
}()

// parseCell turns a cell into a value. Empty and NaN-like cells are missing.
// ok is false for text that is not a number.
func parseCell(cell string) (v float64, ok bool) {
	cell = strings.TrimSpace(cell)
	switch strings.ToLower(cell) {
	case "", "nan", "na", "null", "none":
		return math.NaN(), true
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReadCSV parses a headed CSV table. Text cells in known raw columns make the
// row invalid; text cells in other columns are treated as missing. maxRows
// of zero means no limit.
func ReadCSV(r io.Reader, maxRows int) (*Input, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV input is empty")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	seen := make(map[string]bool, len(header))
	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if col == "" {
			return nil, fmt.Errorf("CSV header column %d is empty", i+1)
		}
		if seen[col] {
			return nil, fmt.Errorf("CSV header has duplicate column %q", col)
		}
		seen[col] = true
		header[i] = col
	}

	in := &Input{Invalid: make(map[int]error)}
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row %d: %w", len(in.Records)+1, err)
		}
		if maxRows > 0 && len(in.Records) >= maxRows {
			return nil, fmt.Errorf("%w of %d", ErrTooManyRows, maxRows)
		}

		idx := len(in.Records)
		rec := make(features.Record, len(header))
		if len(row) != len(header) {
			in.Invalid[idx] = &features.FeaturizationError{
				Field:  "row",
				Reason: fmt.Sprintf("has %d fields, header has %d", len(row), len(header)),
			}
			in.Records = append(in.Records, features.Record{})
			continue
		}
		for j, cell := range row {
			v, ok := parseCell(cell)
			if !ok {
				if rawColumn[header[j]] {
					in.Invalid[idx] = &features.FeaturizationError{
						Field:  header[j],
						Reason: fmt.Sprintf("non-numeric value %q", strings.TrimSpace(cell)),
					}
					break
				}
				v = math.NaN()
			}
			rec[header[j]] = v
		}
		if _, bad := in.Invalid[idx]; bad {
			rec = features.Record{}
		}
		in.Records = append(in.Records, rec)
	}

	return in, nil
}

// ReadJSON parses a JSON array of objects. Numbers and numeric strings are
// values, null is missing, and an absent key leaves the column absent.
func ReadJSON(r io.Reader, maxRows int) (*Input, error) {
	var raw []map[string]any
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode JSON records: %w", err)
	}
	if maxRows > 0 && len(raw) > maxRows {
		return nil, fmt.Errorf("%w of %d", ErrTooManyRows, maxRows)
	}

	in := &Input{Invalid: make(map[int]error), Records: make([]features.Record, len(raw))}
	for i, obj := range raw {
		rec, err := RecordFromJSON(obj)
		if err != nil {
			in.Invalid[i] = err
			rec = features.Record{}
		}
		in.Records[i] = rec
	}
	return in, nil
}

// RecordFromJSON converts one decoded JSON object into a record.
func RecordFromJSON(obj map[string]any) (features.Record, error) {
	rec := make(features.Record, len(obj))
	for k, val := range obj {
		switch v := val.(type) {
		case nil:
			rec[k] = math.NaN()
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return nil, &features.FeaturizationError{Field: k, Reason: fmt.Sprintf("invalid number %q", v.String())}
			}
			rec[k] = f
		case float64:
			rec[k] = v
		case string:
			f, ok := parseCell(v)
			if !ok {
				if rawColumn[k] {
					return nil, &features.FeaturizationError{Field: k, Reason: fmt.Sprintf("non-numeric value %q", v)}
				}
				f = math.NaN()
			}
			rec[k] = f
		default:
			if rawColumn[k] {
				return nil, &features.FeaturizationError{Field: k, Reason: fmt.Sprintf("unsupported value of type %T", val)}
			}
		}
	}
	return rec, nil
}

// LoadFile reads a CSV or JSON table from disk. A .gz suffix is decompressed
// first; the remaining extension picks the format.
func LoadFile(path string, maxRows int) (*Input, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer file.Close()

	var r io.Reader = bufio.NewReader(file)
	name := path
	if strings.HasSuffix(name, ".gz") {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip input: %w", err)
		}
		defer zr.Close()
		r = zr
		name = strings.TrimSuffix(name, ".gz")
	}

	var in *Input
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		in, err = ReadJSON(r, maxRows)
	case ".csv", ".txt", "":
		in, err = ReadCSV(r, maxRows)
	default:
		return nil, fmt.Errorf("unsupported input format %q", filepath.Ext(name))
	}
	if err != nil {
		return nil, err
	}

	in.Source = filepath.Base(path)
	log.Info().
		Str("file", path).
		Int("rows", in.Len()).
		Int("invalid", len(in.Invalid)).
		Msg("Batch input loaded")
	return in, nil
}

// DetectFormat guesses whether data is JSON or CSV from its first
// non-space byte.
func DetectFormat(data []byte) string {
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return "json"
	}
	return "csv"
}
