package ml

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"koi-classifier/internal/common"
	"koi-classifier/internal/features"
)

//go:embed schemas/manifest.schema.json
var manifestSchemaJSON []byte

var manifestSchema = mustCompileManifestSchema()

var schemaPrinter = message.NewPrinter(language.English)

// Manifest describes a bundle directory.
type Manifest struct {
	Version      string             `yaml:"version" json:"version"`
	TrainedAt    time.Time          `yaml:"trained_at,omitempty" json:"trained_at,omitempty"`
	Description  string             `yaml:"description,omitempty" json:"description,omitempty"`
	FeatureNames []string           `yaml:"feature_names" json:"feature_names"`
	Artifacts    Artifacts          `yaml:"artifacts,omitempty" json:"artifacts,omitempty"`
	Checksums    map[string]string  `yaml:"checksums,omitempty" json:"checksums,omitempty"`
	Stats        features.Stats     `yaml:"stats,omitempty" json:"stats,omitempty"`
	Metrics      map[string]float64 `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

// Artifacts names the files of a bundle relative to its directory.
type Artifacts struct {
	Scaler     string `yaml:"scaler,omitempty" json:"scaler,omitempty"`
	Classifier string `yaml:"classifier,omitempty" json:"classifier,omitempty"`
	Labels     string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

func (a Artifacts) withDefaults() Artifacts {
	if a.Scaler == "" {
		a.Scaler = common.ScalerFile
	}
	if a.Classifier == "" {
		a.Classifier = common.ClassifierFile
	}
	if a.Labels == "" {
		a.Labels = common.LabelsFile
	}
	return a
}

func mustCompileManifestSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(manifestSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("failed to parse embedded manifest schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("manifest.schema.json", doc); err != nil {
		panic(fmt.Sprintf("failed to add manifest schema: %v", err))
	}
	sch, err := c.Compile("manifest.schema.json")
	if err != nil {
		panic(fmt.Sprintf("failed to compile manifest schema: %v", err))
	}
	return sch
}

// ParseManifest decodes and validates manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("manifest yaml: %w", err)
	}
	// Round-trip through JSON so the validator sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("manifest is not JSON compatible: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("manifest json: %w", err)
	}
	if err := manifestSchema.Validate(inst); err != nil {
		return nil, fmt.Errorf("manifest invalid: %s", describeSchemaError(err))
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest decode: %w", err)
	}
	for name, s := range m.Stats {
		if !finite(s.Median) || !finite(s.Q1) || !finite(s.Q3) || s.Q1 > s.Q3 {
			return nil, fmt.Errorf("manifest stats for %s are invalid", name)
		}
	}
	m.Artifacts = m.Artifacts.withDefaults()
	return &m, nil
}

// Marshal encodes the manifest as YAML.
func (m *Manifest) Marshal() ([]byte, error) {
	return yaml.Marshal(m)
}

func describeSchemaError(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	collectSchemaErrors(ve, &msgs)
	return strings.Join(msgs, "; ")
}

func collectSchemaErrors(ve *jsonschema.ValidationError, msgs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*msgs = append(*msgs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, msgs)
	}
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
