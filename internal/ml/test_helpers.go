package ml

import (
	"context"
	"os"
	"path/filepath"
	"sync"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu          sync.Mutex
	latencies   int
	failures    int
	loaded      bool
	loadedCalls int
	modelAge    float64
}

func (m *MockMetrics) InferenceLatencyObserve(float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencies++
}

func (m *MockMetrics) InferenceFailuresInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures++
}

func (m *MockMetrics) ModelLoadedSet(v bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loaded = v
	m.loadedCalls++
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

// StubClassifier returns a fixed churn probability, or Err when set.
type StubClassifier struct {
	Proba float64
	Err   error

	mu    sync.Mutex
	calls int
	last  Vector
}

func (s *StubClassifier) PredictProba(_ context.Context, v Vector) ([2]float64, error) {
	s.mu.Lock()
	s.calls++
	s.last = v
	s.mu.Unlock()
	if s.Err != nil {
		return [2]float64{}, s.Err
	}
	return [2]float64{1 - s.Proba, s.Proba}, nil
}

// Calls returns how many times PredictProba ran.
func (s *StubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Last returns the most recent vector received.
func (s *StubClassifier) Last() Vector {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// StubLoader returns a Loader that always yields c under the given type tag.
func StubLoader(c Classifier, modelType string) Loader {
	return LoaderFunc(func(context.Context, string) (*Artifact, error) {
		return &Artifact{Classifier: c, ModelType: modelType, ConcurrentSafe: true}, nil
	})
}

// NewLoadedManager returns a Manager already loaded with c, for tests in
// other packages. The artifact path is a throwaway file under dir.
func NewLoadedManager(ctx context.Context, dir string, c Classifier) (*Manager, error) {
	path, err := writeStubArtifact(dir)
	if err != nil {
		return nil, err
	}
	m := NewManager(WithLoader(".stub", StubLoader(c, "StubClassifier")))
	if err := m.Load(ctx, path); err != nil {
		return nil, err
	}
	return m, nil
}

func writeStubArtifact(dir string) (string, error) {
	path := filepath.Join(dir, "model.stub")
	return path, os.WriteFile(path, []byte("stub"), 0o600)
}
