package classifier

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// leaf marks an absent child in the node arrays.
const leaf = -1

const maxModelSize = 16 * 1024 * 1024

// ErrFeatureCount is returned when a vector is shorter than the model needs.
var ErrFeatureCount = errors.New("feature vector too short")

// DecisionTree is a fitted binary decision tree stored as parallel node
// arrays. Node 0 is the root. An internal node sends a vector left when
// vector[Feature[i]] <= Threshold[i].
type DecisionTree struct {
	FeatureNames  []string    `json:"feature_names,omitempty"`
	ClassNames    []string    `json:"class_names,omitempty"`
	ChildrenLeft  []int       `json:"children_left"`
	ChildrenRight []int       `json:"children_right"`
	Feature       []int       `json:"feature"`
	Threshold     []float64   `json:"threshold"`
	Value         [][]float64 `json:"value"`
	// Classes maps value columns to label indices; identity when empty.
	Classes []int `json:"classes,omitempty"`

	// Windowing the model was trained with, if recorded.
	WindowSize int `json:"window_size,omitempty"`
	StepSize   int `json:"step_size,omitempty"`
}

// LoadDecisionTree reads and validates a tree from a .json file.
func LoadDecisionTree(path string) (*DecisionTree, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("model file must have .json extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat model file: %w", err)
	}
	if info.Size() > maxModelSize {
		return nil, fmt.Errorf("model file too large: %d bytes (max %d)", info.Size(), maxModelSize)
	}

	f, err := os.Open(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()

	t, err := ReadDecisionTree(f)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cleanPath, err)
	}
	return t, nil
}

// ReadDecisionTree decodes and validates a tree from r.
func ReadDecisionTree(r io.Reader) (*DecisionTree, error) {
	var t DecisionTree
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("failed to parse model JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the structural consistency of the node arrays. Children
// always follow their parent, so a valid tree has no cycles.
func (t *DecisionTree) Validate() error {
	n := len(t.ChildrenLeft)
	if n == 0 {
		return errors.New("tree has no nodes")
	}
	if len(t.ChildrenRight) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays differ in length: left=%d right=%d feature=%d threshold=%d value=%d",
			n, len(t.ChildrenRight), len(t.Feature), len(t.Threshold), len(t.Value))
	}

	width := len(t.Value[0])
	if width == 0 {
		return errors.New("value rows are empty")
	}
	if len(t.Classes) > 0 && len(t.Classes) != width {
		return fmt.Errorf("classes has %d entries, value rows have %d", len(t.Classes), width)
	}
	if len(t.ClassNames) > 0 && len(t.ClassNames) < width && len(t.Classes) == 0 {
		return fmt.Errorf("class_names has %d entries, value rows have %d", len(t.ClassNames), width)
	}

	for i := 0; i < n; i++ {
		if len(t.Value[i]) != width {
			return fmt.Errorf("node %d: value row has %d entries, want %d", i, len(t.Value[i]), width)
		}
		l, r := t.ChildrenLeft[i], t.ChildrenRight[i]
		if l == leaf && r == leaf {
			continue
		}
		if l == leaf || r == leaf {
			return fmt.Errorf("node %d: has only one child", i)
		}
		if l <= i || l >= n || r <= i || r >= n {
			return fmt.Errorf("node %d: children (%d, %d) out of order", i, l, r)
		}
		if t.Feature[i] < 0 {
			return fmt.Errorf("node %d: negative feature index %d", i, t.Feature[i])
		}
		if len(t.FeatureNames) > 0 && t.Feature[i] >= len(t.FeatureNames) {
			return fmt.Errorf("node %d: feature index %d beyond %d names", i, t.Feature[i], len(t.FeatureNames))
		}
	}
	return nil
}

// NumFeatures returns the minimum vector length the tree reads.
func (t *DecisionTree) NumFeatures() int {
	if len(t.FeatureNames) > 0 {
		return len(t.FeatureNames)
	}
	highest := -1
	for i, f := range t.Feature {
		if t.ChildrenLeft[i] != leaf && f > highest {
			highest = f
		}
	}
	return highest + 1
}

// Predict walks the tree for features and returns the majority class of the
// leaf reached.
func (t *DecisionTree) Predict(features []float64) (int, error) {
	if need := t.NumFeatures(); len(features) < need {
		return 0, fmt.Errorf("%w: got %d, need %d", ErrFeatureCount, len(features), need)
	}

	node := 0
	for t.ChildrenLeft[node] != leaf {
		if features[t.Feature[node]] <= t.Threshold[node] {
			node = t.ChildrenLeft[node]
		} else {
			node = t.ChildrenRight[node]
		}
	}

	col := argmax(t.Value[node])
	if len(t.Classes) > 0 {
		return t.Classes[col], nil
	}
	return col, nil
}

// argmax returns the first index of the largest value.
func argmax(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// CheckCompatibility reports whether tree reads the given feature layout and
// predicts into labels. It returns an error wrapping ErrModelMismatch.
func CheckCompatibility(tree *DecisionTree, featureNames []string, labels []Activity) error {
	if len(tree.FeatureNames) > 0 && !slices.Equal(tree.FeatureNames, featureNames) {
		return fmt.Errorf("%w: model features %v, pipeline features %v", ErrModelMismatch, tree.FeatureNames, featureNames)
	}
	if need := tree.NumFeatures(); need > len(featureNames) {
		return fmt.Errorf("%w: model reads %d features, pipeline produces %d", ErrModelMismatch, need, len(featureNames))
	}

	if len(tree.ClassNames) > 0 {
		if len(tree.ClassNames) != len(labels) {
			return fmt.Errorf("%w: model has %d classes, pipeline has %d labels", ErrModelMismatch, len(tree.ClassNames), len(labels))
		}
		for i, name := range tree.ClassNames {
			if Activity(name) != labels[i] {
				return fmt.Errorf("%w: class %d is %q, label is %q", ErrModelMismatch, i, name, labels[i])
			}
		}
	}

	width := len(tree.Value[0])
	for col := 0; col < width; col++ {
		idx := col
		if len(tree.Classes) > 0 {
			idx = tree.Classes[col]
		}
		if idx < 0 || idx >= len(labels) {
			return fmt.Errorf("%w: model class index %d has no label (%d labels)", ErrModelMismatch, idx, len(labels))
		}
	}
	return nil
}
