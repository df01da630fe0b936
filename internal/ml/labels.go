package ml

import (
	"encoding/json"
	"fmt"
)

// Disposition labels.
const (
	LabelFalsePositive = "FALSE POSITIVE"
	LabelCandidate     = "CANDIDATE"
	LabelConfirmed     = "CONFIRMED"
)

// Dispositions is the canonical order used for probability vectors in results.
var Dispositions = [3]string{LabelFalsePositive, LabelCandidate, LabelConfirmed}

// Codec maps classifier output indices to disposition labels.
type Codec struct {
	classes   []string
	canonical []int // classifier index -> Dispositions index
}

// NewCodec accepts any ordering of the three dispositions.
func NewCodec(classes []string) (*Codec, error) {
	if len(classes) != len(Dispositions) {
		return nil, fmt.Errorf("label codec has %d classes, want %d", len(classes), len(Dispositions))
	}
	c := &Codec{
		classes:   append([]string(nil), classes...),
		canonical: make([]int, len(classes)),
	}
	seen := make(map[string]bool, len(classes))
	for i, label := range classes {
		pos := canonicalIndex(label)
		if pos < 0 {
			return nil, fmt.Errorf("unknown disposition label %q", label)
		}
		if seen[label] {
			return nil, fmt.Errorf("duplicate disposition label %q", label)
		}
		seen[label] = true
		c.canonical[i] = pos
	}
	return c, nil
}

// DefaultCodec is the alphabetical order a label encoder produces.
func DefaultCodec() *Codec {
	c, _ := NewCodec([]string{LabelCandidate, LabelConfirmed, LabelFalsePositive})
	return c
}

func canonicalIndex(label string) int {
	for i, d := range Dispositions {
		if d == label {
			return i
		}
	}
	return -1
}

// Size returns the number of classes.
func (c *Codec) Size() int { return len(c.classes) }

// Classes returns the labels in classifier index order.
func (c *Codec) Classes() []string { return append([]string(nil), c.classes...) }

// Decode maps a classifier index to its label.
func (c *Codec) Decode(i int) (string, error) {
	if i < 0 || i >= len(c.classes) {
		return "", fmt.Errorf("class index %d out of range [0,%d)", i, len(c.classes))
	}
	return c.classes[i], nil
}

// Encode maps a label to its classifier index.
func (c *Codec) Encode(label string) (int, error) {
	for i, l := range c.classes {
		if l == label {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown disposition label %q", label)
}

// Canonical reorders a classifier probability vector into Dispositions order.
func (c *Codec) Canonical(proba []float64) [3]float64 {
	var out [3]float64
	for i, p := range proba {
		out[c.canonical[i]] = p
	}
	return out
}

type codecFile struct {
	Classes []string `json:"classes"`
}

func (c *Codec) MarshalJSON() ([]byte, error) {
	return json.Marshal(codecFile{Classes: c.classes})
}

func (c *Codec) UnmarshalJSON(data []byte) error {
	var f codecFile
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	parsed, err := NewCodec(f.Classes)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}
