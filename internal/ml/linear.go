package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// NumericTerm standardizes one numeric column and weights it.
type NumericTerm struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Scale  float64 `json:"scale" yaml:"scale"`
	Weight float64 `json:"weight" yaml:"weight"`
}

// LinearArtifact is the on-disk form of a standardized, one-hot encoded
// logistic regression. It is what the training notebook exports next to the
// pickle so the service can score without a Python runtime.
type LinearArtifact struct {
	ModelType    string                        `json:"model_type" yaml:"model_type"`
	FeatureOrder []string                      `json:"feature_order,omitempty" yaml:"feature_order,omitempty"`
	Intercept    float64                       `json:"intercept" yaml:"intercept"`
	Numeric      map[string]NumericTerm        `json:"numeric" yaml:"numeric"`
	Categorical  map[string]map[string]float64 `json:"categorical" yaml:"categorical"`
}

type linearClassifier struct {
	art LinearArtifact
}

// LoadLinear reads a JSON or YAML linear artifact and checks that it covers
// every column in order.
func LoadLinear(_ context.Context, path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read artifact %s", path)
	}

	var art LinearArtifact
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &art)
	default:
		err = json.Unmarshal(data, &art)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decode artifact %s", path)
	}

	if err := art.check(); err != nil {
		return nil, errors.Wrapf(err, "artifact %s", path)
	}

	modelType := art.ModelType
	if modelType == "" {
		modelType = "LogisticRegression"
	}
	return &Artifact{
		Classifier:     &linearClassifier{art: art},
		ModelType:      modelType,
		ConcurrentSafe: true,
	}, nil
}

func (a *LinearArtifact) check() error {
	if len(a.FeatureOrder) > 0 {
		if len(a.FeatureOrder) != len(featureOrder) {
			return fmt.Errorf("declares %d columns, service sends %d", len(a.FeatureOrder), len(featureOrder))
		}
		for i, name := range a.FeatureOrder {
			if name != featureOrder[i] {
				return fmt.Errorf("column %d is %q, service sends %q", i, name, featureOrder[i])
			}
		}
	}
	for _, col := range featureOrder {
		_, num := a.Numeric[col]
		_, cat := a.Categorical[col]
		if !num && !cat {
			return fmt.Errorf("no coefficients for column %s", col)
		}
	}
	for col, term := range a.Numeric {
		if term.Scale < 0 || math.IsNaN(term.Scale) {
			return fmt.Errorf("column %s: invalid scale %v", col, term.Scale)
		}
		if term.Scale == 0 {
			// Zero-variance columns are left unscaled.
			term.Scale = 1
			a.Numeric[col] = term
		}
	}
	return nil
}

func (c *linearClassifier) PredictProba(_ context.Context, v Vector) ([2]float64, error) {
	z := c.art.Intercept
	for _, cell := range v {
		if cell.Categorical {
			levels, ok := c.art.Categorical[cell.Name]
			if !ok {
				return [2]float64{}, fmt.Errorf("column %s is not categorical in artifact", cell.Name)
			}
			// Unseen levels contribute nothing, as with handle_unknown="ignore".
			z += levels[cell.Cat]
			continue
		}
		term, ok := c.art.Numeric[cell.Name]
		if !ok {
			return [2]float64{}, fmt.Errorf("column %s is not numeric in artifact", cell.Name)
		}
		z += term.Weight * (cell.Num - term.Mean) / term.Scale
	}
	if math.IsNaN(z) {
		return [2]float64{}, errors.New("decision function is NaN")
	}
	p := sigmoid(z)
	return [2]float64{1 - p, p}, nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
