// Package classifier maps feature vectors to activity labels.
//
// The model itself is opaque behind the single-method Classifier interface;
// DecisionTree is the bundled implementation, loaded from the JSON artifact
// exported by the offline trainer.
package classifier

import (
	"errors"
	"fmt"
	"slices"
)

// Activity is one of the recognised activity labels.
type Activity string

const (
	Falling  Activity = "falling"
	Jumping  Activity = "jumping"
	Sitting  Activity = "sitting"
	Standing Activity = "standing"
	Turning  Activity = "turning"
	Walking  Activity = "walking"
)

// DefaultLabels is the class order used by the shipped models.
var DefaultLabels = []Activity{Falling, Jumping, Sitting, Standing, Turning, Walking}

var (
	// ErrClassOutOfRange is returned when the model yields an index with no
	// label. It indicates a model/label mismatch, not bad input.
	ErrClassOutOfRange = errors.New("class index out of range")
	// ErrModelMismatch is returned when a model does not fit the configured
	// feature layout or label set.
	ErrModelMismatch = errors.New("model does not match pipeline")
	// ErrUnknownActivity is returned by ParseActivity for unrecognised names.
	ErrUnknownActivity = errors.New("unknown activity")
)

// ParseActivity returns the Activity named s.
func ParseActivity(s string) (Activity, error) {
	a := Activity(s)
	if !slices.Contains(DefaultLabels, a) {
		return "", fmt.Errorf("%w: %q", ErrUnknownActivity, s)
	}
	return a, nil
}

// ParseLabels converts class names into activities.
func ParseLabels(names []string) ([]Activity, error) {
	out := make([]Activity, len(names))
	for i, n := range names {
		a, err := ParseActivity(n)
		if err != nil {
			return nil, err
		}
		out[i] = a
	}
	return out, nil
}

// LabelIndex returns the class index of a within labels. Nil labels select
// DefaultLabels.
func LabelIndex(labels []Activity, a Activity) (int, error) {
	if labels == nil {
		labels = DefaultLabels
	}
	i := slices.Index(labels, a)
	if i < 0 {
		return 0, fmt.Errorf("%w: %q not in label set", ErrUnknownActivity, a)
	}
	return i, nil
}

func (a Activity) String() string { return string(a) }

// Classifier predicts a class index for a feature vector. Implementations
// must be safe for concurrent use.
type Classifier interface {
	Predict(features []float64) (int, error)
}

// Adapter turns model indices into activities.
type Adapter struct {
	model  Classifier
	labels []Activity
}

// NewAdapter returns an Adapter for model with the given label order. A nil
// labels slice selects DefaultLabels.
func NewAdapter(model Classifier, labels []Activity) (*Adapter, error) {
	if model == nil {
		return nil, errors.New("classifier model is nil")
	}
	if labels == nil {
		labels = DefaultLabels
	}
	if len(labels) == 0 {
		return nil, errors.New("label set is empty")
	}
	return &Adapter{model: model, labels: slices.Clone(labels)}, nil
}

// Labels returns the adapter's label order.
func (a *Adapter) Labels() []Activity { return slices.Clone(a.labels) }

// Classify predicts the activity for features.
func (a *Adapter) Classify(features []float64) (Activity, error) {
	idx, err := a.model.Predict(features)
	if err != nil {
		return "", fmt.Errorf("predict: %w", err)
	}
	if idx < 0 || idx >= len(a.labels) {
		return "", fmt.Errorf("%w: index %d with %d labels", ErrClassOutOfRange, idx, len(a.labels))
	}
	return a.labels[idx], nil
}
