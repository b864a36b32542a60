package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusUnprocessableEntity},
		{KindModelUnavailable, http.StatusServiceUnavailable},
		{KindInferenceFailure, http.StatusInternalServerError},
		{KindArtifactNotFound, http.StatusInternalServerError},
		{KindArtifactCorrupt, http.StatusInternalServerError},
		{KindBadRequest, http.StatusBadRequest},
		{KindNotFound, http.StatusNotFound},
		{Kind("bogus"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.kind))
		})
	}
}

func TestValidation_SortsAndRendersViolations(t *testing.T) {
	err := Validation([]Violation{
		{Field: "watch_hours", Message: "must be >= 0"},
		{Field: "number_of_profiles", Message: "must be between 1 and 5"},
	})

	require.Len(t, err.Violations, 2)
	assert.Equal(t, "number_of_profiles", err.Violations[0].Field)
	assert.Equal(t, "invalid input: number_of_profiles: must be between 1 and 5; watch_hours: must be >= 0", err.Detail())
	assert.Equal(t, http.StatusUnprocessableEntity, err.StatusCode())
}

func TestKindOf_ThroughWrapping(t *testing.T) {
	cause := errors.New("boom")
	base := Wrap(KindInferenceFailure, "prediction failed", cause)
	wrapped := fmt.Errorf("outer: %w", base)

	assert.Equal(t, KindInferenceFailure, KindOf(wrapped))
	assert.True(t, Is(wrapped, KindInferenceFailure))
	assert.False(t, Is(wrapped, KindValidation))
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, Kind(""), KindOf(cause))
	assert.False(t, Is(nil, KindInferenceFailure))
}

func TestError_MessageDoesNotLeakCause(t *testing.T) {
	err := Wrap(KindInferenceFailure, "prediction failed", errors.New("sklearn traceback"))

	assert.Equal(t, "prediction failed", err.Detail())
	assert.Contains(t, err.Error(), "sklearn traceback")
}
