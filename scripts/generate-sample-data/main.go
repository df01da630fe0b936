package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog/log"

	"koi-classifier/internal/features"
)

func main() {
	var (
		outPath     = flag.String("out", "sample_kois.csv", "Output CSV path; a .gz suffix compresses it")
		rows        = flag.Int("rows", 1000, "Number of rows to generate")
		seed        = flag.Int64("seed", 42, "Random seed")
		missingRate = flag.Float64("missing-rate", 0.05, "Probability that a cell is left empty")
		withNames   = flag.Bool("names", true, "Add a kepler_name column that the classifier ignores")
	)
	flag.Parse()

	fmt.Printf("Generating %d sample KOI rows...\n", *rows)
	fmt.Printf("  Seed: %d\n", *seed)
	fmt.Printf("  Missing Rate: %.2f\n", *missingRate)
	fmt.Printf("  Output: %s\n", *outPath)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create output")
	}
	defer f.Close()

	var w io.Writer = f
	if strings.HasSuffix(*outPath, ".gz") {
		zw := gzip.NewWriter(f)
		defer zw.Close()
		w = zw
	}

	rng := rand.New(rand.NewSource(*seed))
	if err := generateKOIs(w, rng, *rows, *missingRate, *withNames); err != nil {
		log.Fatal().Err(err).Msg("Failed to generate data")
	}

	fmt.Printf("✓ Generated %d rows\n", *rows)
}

func generateKOIs(w io.Writer, rng *rand.Rand, rows int, missingRate float64, withNames bool) error {
	cw := csv.NewWriter(w)

	header := append([]string(nil), features.RawColumns...)
	if withNames {
		header = append(header, "kepler_name")
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i := 0; i < rows; i++ {
		values := sampleKOI(rng)
		record := make([]string, 0, len(header))
		for _, c := range features.RawColumns {
			if rng.Float64() < missingRate {
				record = append(record, "")
				continue
			}
			record = append(record, strconv.FormatFloat(values[c], 'f', 5, 64))
		}
		if withNames {
			record = append(record, fmt.Sprintf("KOI-%04d.01", i+1))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// sampleKOI draws one object around the reference values. Periods are
// log-uniform between half a day and 500 days; depth and SNR are log-normal.
func sampleKOI(rng *rand.Rand) map[string]float64 {
	period := math.Exp(math.Log(0.5) + rng.Float64()*(math.Log(500)-math.Log(0.5)))
	srad := math.Max(0.2, 1+0.3*rng.NormFloat64())
	prad := math.Exp(0.8 + 0.9*rng.NormFloat64())
	depth := math.Exp(math.Log(features.ReferenceDefaults[features.Depth]) + 1.5*rng.NormFloat64())

	return map[string]float64{
		features.Period:            period,
		features.Time0BK:           130 + rng.Float64()*period,
		features.Duration:          math.Max(0.3, 2+3*rng.Float64()*math.Cbrt(period/10)),
		features.Depth:             depth,
		features.PlanetRadius:      prad,
		features.Impact:            math.Abs(0.5 + 0.35*rng.NormFloat64()),
		features.ModelSNR:          math.Exp(math.Log(30) + 1.2*rng.NormFloat64()),
		features.Score:             rng.Float64(),
		features.PDispositionBin:   float64(rng.Intn(2)),
		features.StellarTeff:       math.Max(2500, 5600+800*rng.NormFloat64()),
		features.StellarRadius:     srad,
		features.StellarSurfaceLog: 4.4 - 0.3*math.Log10(srad) + 0.1*rng.NormFloat64(),
	}
}
