package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// EnsembleFormat identifies the serialized ensemble layout.
const EnsembleFormat = "koi-ensemble/v1"

// Estimator kinds.
const (
	KindForest  = "forest"
	KindBoosted = "boosted"
)

// Split rules: a sample goes left when x <= threshold (le) or x < threshold (lt).
const (
	SplitLE = "le"
	SplitLT = "lt"
)

// Classifier produces class probabilities for one standardized feature vector.
type Classifier interface {
	NumFeatures() int
	NumClasses() int
	PredictProba(x []float64) ([]float64, error)
}

// Node is one tree node. A node with Left < 0 is a leaf.
type Node struct {
	Feature   int       `json:"feature"`
	Threshold float64   `json:"threshold"`
	Left      int       `json:"left"`
	Right     int       `json:"right"`
	Value     []float64 `json:"value,omitempty"`
}

func (n Node) leaf() bool { return n.Left < 0 }

// Tree is a flat array of nodes rooted at index 0. Class is the output class a
// boosted tree contributes its margin to.
type Tree struct {
	Nodes []Node `json:"nodes"`
	Class int    `json:"class,omitempty"`
}

func (t *Tree) leafFor(x []float64, split string) []float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.leaf() {
			return n.Value
		}
		v := x[n.Feature]
		goLeft := v <= n.Threshold
		if split == SplitLT {
			goLeft = v < n.Threshold
		}
		if goLeft {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// Estimator is one voting member: a random forest or a gradient-boosted model.
type Estimator struct {
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Weight    float64   `json:"weight,omitempty"`
	Split     string    `json:"split,omitempty"`
	BaseScore []float64 `json:"base_score,omitempty"`
	Trees     []Tree    `json:"trees"`
}

// Ensemble combines estimators by soft voting.
type Ensemble struct {
	Format     string      `json:"format"`
	NFeatures  int         `json:"n_features"`
	NClasses   int         `json:"n_classes"`
	Voting     string      `json:"voting"`
	Estimators []Estimator `json:"estimators"`
}

var _ Classifier = (*Ensemble)(nil)

func (e *Ensemble) NumFeatures() int { return e.NFeatures }
func (e *Ensemble) NumClasses() int { return e.NClasses }

func (e *Ensemble) validate() error {
	if e.Format != EnsembleFormat {
		return fmt.Errorf("unsupported ensemble format %q", e.Format)
	}
	if e.Voting != "soft" {
		return fmt.Errorf("unsupported voting %q", e.Voting)
	}
	if e.NFeatures <= 0 || e.NClasses <= 0 {
		return fmt.Errorf("ensemble must have features and classes (got %d, %d)", e.NFeatures, e.NClasses)
	}
	if len(e.Estimators) == 0 {
		return fmt.Errorf("ensemble has no estimators")
	}
	for k := range e.Estimators {
		est := &e.Estimators[k]
		if est.Weight < 0 || math.IsNaN(est.Weight) || math.IsInf(est.Weight, 0) {
			return fmt.Errorf("estimator %s: weight must be finite and non-negative", est.Name)
		}
		if est.Weight == 0 {
			est.Weight = 1
		}
		if est.Split == "" {
			est.Split = SplitLE
		}
		if est.Split != SplitLE && est.Split != SplitLT {
			return fmt.Errorf("estimator %s: unknown split rule %q", est.Name, est.Split)
		}
		if err := e.validateEstimator(est); err != nil {
			return fmt.Errorf("estimator %s: %w", est.Name, err)
		}
	}
	return nil
}

func (e *Ensemble) validateEstimator(est *Estimator) error {
	switch est.Kind {
	case KindForest:
	case KindBoosted:
		if len(est.BaseScore) != 0 && len(est.BaseScore) != e.NClasses {
			return fmt.Errorf("base score has %d entries, want %d", len(est.BaseScore), e.NClasses)
		}
	default:
		return fmt.Errorf("unknown kind %q", est.Kind)
	}
	if len(est.Trees) == 0 {
		return fmt.Errorf("no trees")
	}

	for ti, tree := range est.Trees {
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d is empty", ti)
		}
		if est.Kind == KindBoosted && (tree.Class < 0 || tree.Class >= e.NClasses) {
			return fmt.Errorf("tree %d targets class %d of %d", ti, tree.Class, e.NClasses)
		}
		for ni, n := range tree.Nodes {
			if !n.leaf() {
				// Children after their parent guarantees the walk terminates.
				if n.Left <= ni || n.Right <= ni || n.Left >= len(tree.Nodes) || n.Right >= len(tree.Nodes) {
					return fmt.Errorf("tree %d node %d has invalid children %d/%d", ti, ni, n.Left, n.Right)
				}
				if n.Feature < 0 || n.Feature >= e.NFeatures {
					return fmt.Errorf("tree %d node %d splits on feature %d of %d", ti, ni, n.Feature, e.NFeatures)
				}
				if math.IsNaN(n.Threshold) {
					return fmt.Errorf("tree %d node %d has NaN threshold", ti, ni)
				}
				continue
			}
			if err := e.validateLeaf(est.Kind, n.Value); err != nil {
				return fmt.Errorf("tree %d leaf %d: %w", ti, ni, err)
			}
		}
	}
	return nil
}

func (e *Ensemble) validateLeaf(kind string, value []float64) error {
	for _, v := range value {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("non-finite leaf value")
		}
	}
	if kind == KindBoosted {
		if len(value) != 1 {
			return fmt.Errorf("boosted leaf has %d values, want 1", len(value))
		}
		return nil
	}
	if len(value) != e.NClasses {
		return fmt.Errorf("leaf has %d class weights, want %d", len(value), e.NClasses)
	}
	sum := 0.0
	for _, v := range value {
		if v < 0 {
			return fmt.Errorf("negative class weight")
		}
		sum += v
	}
	if sum <= 0 {
		return fmt.Errorf("leaf has no class weight")
	}
	return nil
}

// PredictProba returns the soft-voted class distribution for x.
func (e *Ensemble) PredictProba(x []float64) ([]float64, error) {
	if len(x) != e.NFeatures {
		return nil, fmt.Errorf("ensemble expects %d features, got %d", e.NFeatures, len(x))
	}

	acc := make([]float64, e.NClasses)
	total := 0.0
	for i := range e.Estimators {
		est := &e.Estimators[i]
		var p []float64
		if est.Kind == KindBoosted {
			p = est.boostedProba(x, e.NClasses)
		} else {
			p = est.forestProba(x, e.NClasses)
		}
		floats.AddScaled(acc, est.Weight, p)
		total += est.Weight
	}
	floats.Scale(1/total, acc)

	sum := floats.Sum(acc)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("ensemble produced a degenerate distribution")
	}
	floats.Scale(1/sum, acc)
	return acc, nil
}

func (est *Estimator) forestProba(x []float64, nClasses int) []float64 {
	out := make([]float64, nClasses)
	leaf := make([]float64, nClasses)
	for i := range est.Trees {
		copy(leaf, est.Trees[i].leafFor(x, est.Split))
		floats.Scale(1/floats.Sum(leaf), leaf)
		floats.Add(out, leaf)
	}
	floats.Scale(1/float64(len(est.Trees)), out)
	return out
}

func (est *Estimator) boostedProba(x []float64, nClasses int) []float64 {
	margins := make([]float64, nClasses)
	copy(margins, est.BaseScore)
	for i := range est.Trees {
		t := &est.Trees[i]
		margins[t.Class] += t.leafFor(x, est.Split)[0]
	}
	return softmax(margins)
}

func softmax(z []float64) []float64 {
	out := make([]float64, len(z))
	maxZ := floats.Max(z)
	for i, v := range z {
		out[i] = math.Exp(v - maxZ)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// Argmax returns the index of the largest probability, the first on ties.
func Argmax(p []float64) int {
	return floats.MaxIdx(p)
}
