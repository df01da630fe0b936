// Package catalog matches transit parameters against a local copy of the
// Kepler cumulative KOI table.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/rs/zerolog/log"
)

// Tolerance is the relative difference allowed on each matched parameter.
const Tolerance = 0.1

// minImpact keeps the impact tolerance meaningful near zero.
const minImpact = 0.001

// ErrCatalogUnavailable is returned when no catalog entries are loaded.
var ErrCatalogUnavailable = errors.New("NASA data not available")

// Entry is one catalog object. Nil fields were null or absent in the source.
type Entry struct {
	KeplerName  *string  `json:"kepler_name"`
	Period      *float64 `json:"koi_period"`
	Impact      *float64 `json:"koi_impact"`
	Depth       *float64 `json:"koi_depth"`
	Disposition string   `json:"koi_disposition"`
}

// Match is a catalog entry within tolerance of the query.
type Match struct {
	KeplerName  *string `json:"kepler_name"`
	Period      float64 `json:"koi_period"`
	Impact      float64 `json:"koi_impact"`
	Depth       float64 `json:"koi_depth"`
	Disposition string  `json:"koi_disposition"`
	IsExoplanet bool    `json:"is_exoplanet"`
}

// Params are the queried transit parameters.
type Params struct {
	Period float64 `json:"period"`
	Impact float64 `json:"impact"`
	Depth  float64 `json:"depth"`
}

// Detection is the outcome of one query. IsExoplanet follows the first match.
type Detection struct {
	IsExoplanet    bool    `json:"is_exoplanet"`
	MatchesFound   int     `json:"matches_found"`
	MatchingPlanet *Match  `json:"matching_planet,omitempty"`
	AllMatches     []Match `json:"all_matches,omitempty"`
	Message        string  `json:"message,omitempty"`
	Input          Params  `json:"input_parameters"`
}

type Catalog struct {
	entries []Entry
}

// New wraps entries in a catalog.
func New(entries []Entry) *Catalog {
	return &Catalog{entries: entries}
}

// Load reads a JSON array of entries. A missing or malformed file yields an
// empty catalog.
func Load(path string) *Catalog {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Catalog not loaded")
		return New(nil)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Catalog is not valid JSON")
		return New(nil)
	}

	log.Info().Str("path", path).Int("entries", len(entries)).Msg("Catalog loaded")
	return New(entries)
}

// Len returns the number of entries.
func (c *Catalog) Len() int { return len(c.entries) }

func within(got, want, ref float64) bool {
	return math.Abs(got-want)/math.Abs(ref) <= Tolerance
}

// Match returns every entry whose period, impact and depth are all within
// Tolerance of p, in catalog order.
func (c *Catalog) Match(p Params) (*Detection, error) {
	if c == nil || len(c.entries) == 0 {
		return nil, ErrCatalogUnavailable
	}
	for name, v := range map[string]float64{"period": p.Period, "impact": p.Impact, "depth": p.Depth} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%s must be finite", name)
		}
	}
	if p.Period == 0 || p.Depth == 0 {
		return nil, fmt.Errorf("period and depth must be non-zero")
	}

	var matches []Match
	for _, e := range c.entries {
		if e.Period == nil || e.Impact == nil || e.Depth == nil {
			continue
		}
		if within(*e.Period, p.Period, p.Period) &&
			within(*e.Impact, p.Impact, math.Max(p.Impact, minImpact)) &&
			within(*e.Depth, p.Depth, p.Depth) {
			matches = append(matches, Match{
				KeplerName:  e.KeplerName,
				Period:      *e.Period,
				Impact:      *e.Impact,
				Depth:       *e.Depth,
				Disposition: e.Disposition,
				IsExoplanet: e.Disposition == "CONFIRMED",
			})
		}
	}

	d := &Detection{MatchesFound: len(matches), Input: p}
	if len(matches) == 0 {
		d.Message = "No matching exoplanet found in NASA database"
		return d, nil
	}
	d.IsExoplanet = matches[0].IsExoplanet
	d.MatchingPlanet = &matches[0]
	if len(matches) > 1 {
		d.AllMatches = matches
	}
	return d, nil
}
