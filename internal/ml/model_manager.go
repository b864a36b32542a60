package ml

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"churninsight/internal/apperr"
	"churninsight/internal/common"
	"churninsight/internal/features"

	"github.com/rs/zerolog/log"
)

var featureOrder = features.ColumnOrder[:]

// State is the lifecycle position of the Manager.
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateLoaded
	StateFailedToLoad
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateFailedToLoad:
		return "failed_to_load"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Descriptor is the public description of the model.
type Descriptor struct {
	Version      string   `json:"version"`
	FeatureOrder []string `json:"features"`
	ModelType    *string  `json:"model_type"`
	Loaded       bool     `json:"loaded"`
}

// Manager owns the single classifier instance for the process lifetime.
// Load happens once; reads never block on it.
type Manager struct {
	state atomic.Int32

	loadMu   sync.Mutex
	inferMu  sync.Mutex
	artifact *Artifact
	path     string
	loadedAt time.Time

	loaders map[string]Loader
	metrics MetricsInterface
}

// Option configures a Manager.
type Option func(*Manager)

// WithLoader registers a loader for a file extension such as ".onnx".
func WithLoader(ext string, l Loader) Option {
	return func(m *Manager) {
		m.loaders[strings.ToLower(ext)] = l
	}
}

// WithMetrics attaches a metrics sink.
func WithMetrics(metrics MetricsInterface) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithPython configures the helper used for pickle and ONNX artifacts.
func WithPython(pythonPath string, timeout time.Duration) Option {
	return func(m *Manager) {
		py := PythonLoader{PythonPath: pythonPath, Timeout: timeout}
		for _, ext := range []string{".pkl", ".joblib", ".onnx"} {
			m.loaders[ext] = py
		}
	}
}

// NewManager returns an Unloaded manager with the default loaders.
func NewManager(opts ...Option) *Manager {
	m := &Manager{loaders: make(map[string]Loader)}
	linear := LoaderFunc(LoadLinear)
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		m.loaders[ext] = linear
	}
	WithPython("", 0)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsLoaded reports whether inference may be attempted.
func (m *Manager) IsLoaded() bool {
	return m.State() == StateLoaded
}

// Load reads the artifact at path. It is a no-op once a load has succeeded;
// after a failure it may be retried.
func (m *Manager) Load(ctx context.Context, path string) error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if m.IsLoaded() {
		return nil
	}
	m.state.Store(int32(StateLoading))

	artifact, modTime, err := m.load(ctx, path)
	if err != nil {
		m.state.Store(int32(StateFailedToLoad))
		if m.metrics != nil {
			m.metrics.ModelLoadedSet(false)
		}
		log.Error().Err(err).Str("model_path", path).Msg("Model load failed")
		return err
	}

	m.artifact = artifact
	m.path = path
	m.loadedAt = time.Now()
	m.state.Store(int32(StateLoaded))

	if m.metrics != nil {
		m.metrics.ModelLoadedSet(true)
		m.metrics.ModelAgeSet(time.Since(modTime).Seconds())
	}

	log.Info().
		Str("model_path", path).
		Str("model_type", artifact.ModelType).
		Bool("concurrent_safe", artifact.ConcurrentSafe).
		Msg("Model loaded")
	return nil
}

func (m *Manager) load(ctx context.Context, path string) (*Artifact, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, time.Time{}, apperr.Wrap(apperr.KindArtifactNotFound, "model artifact not found: "+path, err)
	}
	if info.IsDir() {
		return nil, time.Time{}, apperr.New(apperr.KindArtifactNotFound, "model artifact is a directory: "+path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	loader, ok := m.loaders[ext]
	if !ok {
		return nil, time.Time{}, apperr.New(apperr.KindArtifactCorrupt, fmt.Sprintf("unsupported artifact format %q", ext))
	}

	artifact, err := loader.Load(ctx, path)
	if err != nil {
		if apperr.KindOf(err) != "" {
			return nil, time.Time{}, err
		}
		return nil, time.Time{}, apperr.Wrap(apperr.KindArtifactCorrupt, "model artifact could not be decoded", err)
	}
	if artifact == nil || artifact.Classifier == nil {
		return nil, time.Time{}, apperr.New(apperr.KindArtifactCorrupt, "loader returned no classifier")
	}
	return artifact, info.ModTime(), nil
}

// Describe returns the descriptor. It never blocks on a load in progress.
func (m *Manager) Describe() Descriptor {
	d := Descriptor{
		Version:      common.ModelVersion,
		FeatureOrder: features.Columns(),
	}
	if m.IsLoaded() {
		modelType := m.artifact.ModelType
		d.ModelType = &modelType
		d.Loaded = true
	}
	return d
}

// Close releases what the classifier holds, such as a helper process, and
// returns the manager to Unloaded so later predictions answer
// ModelUnavailable.
func (m *Manager) Close() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()

	if !m.IsLoaded() {
		return nil
	}
	m.state.Store(int32(StateUnloaded))
	if m.metrics != nil {
		m.metrics.ModelLoadedSet(false)
	}

	m.inferMu.Lock()
	defer m.inferMu.Unlock()
	if c, ok := m.artifact.Classifier.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// LoadedAt returns when the artifact became available, zero if it has not.
func (m *Manager) LoadedAt() time.Time {
	if !m.IsLoaded() {
		return time.Time{}
	}
	return m.loadedAt
}

// PredictProbability returns the churn-class probability for one vector.
// Classifier faults come back as InferenceFailure.
func (m *Manager) PredictProbability(ctx context.Context, v Vector) (float64, error) {
	if !m.IsLoaded() {
		return 0, apperr.New(apperr.KindModelUnavailable, "model is not loaded")
	}
	artifact := m.artifact

	if !artifact.ConcurrentSafe {
		m.inferMu.Lock()
		defer m.inferMu.Unlock()
	}

	start := time.Now()
	probs, err := artifact.Classifier.PredictProba(ctx, v)
	if m.metrics != nil {
		m.metrics.InferenceLatencyObserve(time.Since(start).Seconds())
	}
	if err == nil {
		p := probs[1]
		if math.IsNaN(p) || p < 0 || p > 1 {
			err = fmt.Errorf("churn probability out of range: %v", p)
		}
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.InferenceFailuresInc()
		}
		return 0, apperr.Wrap(apperr.KindInferenceFailure, "model inference failed", err)
	}
	return probs[1], nil
}
