package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"koi-classifier/internal/ml"
)

func main() {
	var (
		outDir      = flag.String("out", "models/fixture", "Directory to write the bundle to")
		version     = flag.String("version", "", "Manifest version (defaults to the fixture version)")
		description = flag.String("description", "Hand-checked two-estimator fixture bundle", "Manifest description")
		compress    = flag.Bool("gzip", false, "Write the classifier as ensemble.json.gz")
	)
	flag.Parse()

	files := ml.FixtureBundleFiles()
	files.Gzip = *compress
	files.Manifest.Description = *description
	files.Manifest.TrainedAt = time.Now().UTC().Truncate(time.Second)
	if *version != "" {
		files.Manifest.Version = *version
	}

	if err := ml.SaveBundle(*outDir, files); err != nil {
		log.Fatal().Err(err).Msg("Failed to write bundle")
	}

	// Reload to validate what was written.
	b, err := ml.LoadBundle(*outDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Written bundle does not load")
	}

	fmt.Printf("✓ Wrote bundle %s to %s\n", b.Version(), *outDir)
	fmt.Printf("  Features: %d\n", len(b.FeatureNames()))
	fmt.Printf("  Classes: %v\n", b.Codec().Classes())
}
