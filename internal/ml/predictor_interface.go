// Package ml owns the churn model artifact: loading it once, describing it,
// and invoking its two-class probability function.
//
// Artifacts are opaque to the rest of the service. A loader registered for the
// artifact's file extension turns the file into a Classifier plus a type tag;
// the Manager wraps that in a load-once lifecycle that is safe to query from
// any number of goroutines.
package ml

import "context"

// Cell is one column of an ordered feature vector. Categorical columns carry
// their literal in Cat, numeric columns their value in Num.
type Cell struct {
	Name        string
	Num         float64
	Cat         string
	Categorical bool
}

// Value returns the cell payload as an untyped value, for encoders.
func (c Cell) Value() any {
	if c.Categorical {
		return c.Cat
	}
	return c.Num
}

// Vector is a feature vector in the artifact's column order.
type Vector []Cell

// Names returns the column names in order.
func (v Vector) Names() []string {
	out := make([]string, len(v))
	for i, c := range v {
		out[i] = c.Name
	}
	return out
}

// Classifier is a loaded binary classifier.
type Classifier interface {
	// PredictProba returns the class probabilities [continue, churn] for one row.
	PredictProba(ctx context.Context, v Vector) ([2]float64, error)
}

// Artifact is what a Loader produces from a file.
type Artifact struct {
	Classifier Classifier
	// ModelType is the descriptor tag reported by /model/info.
	ModelType string
	// ConcurrentSafe is false when PredictProba must not run in parallel.
	ConcurrentSafe bool
}

// Loader decodes one artifact format.
type Loader interface {
	Load(ctx context.Context, path string) (*Artifact, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (*Artifact, error)

func (f LoaderFunc) Load(ctx context.Context, path string) (*Artifact, error) {
	return f(ctx, path)
}

// MetricsInterface defines the metrics the model layer reports.
type MetricsInterface interface {
	InferenceLatencyObserve(float64)
	InferenceFailuresInc()
	ModelLoadedSet(bool)
	ModelAgeSet(float64)
}
