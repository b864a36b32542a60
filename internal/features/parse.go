package features

import (
	"fmt"
	"math"
	"strings"

	"churninsight/internal/apperr"

	"github.com/spf13/cast"
)

// maxExactInt is the largest integer a float64 represents exactly.
const maxExactInt = 1 << 53

// Parse turns untyped field values (as decoded from JSON) into a valid
// CustomerFeatures. Every violating field is reported, not just the first.
// Numeric strings are accepted; booleans are not numbers.
func Parse(raw map[string]any) (CustomerFeatures, error) {
	f, violations := parseFeatures(raw, "")
	if len(violations) > 0 {
		return CustomerFeatures{}, apperr.Validation(violations)
	}
	return f, nil
}

// ParseRequest parses a whole prediction request body. Feature violations are
// reported with a "features." prefix alongside any customer_id violation.
func ParseRequest(raw map[string]any) (PredictionRequest, error) {
	var (
		req        PredictionRequest
		violations []apperr.Violation
	)

	switch id := raw["customer_id"].(type) {
	case nil:
		violations = append(violations, apperr.Violation{Field: "customer_id", Message: "field required"})
	case string:
		if strings.TrimSpace(id) == "" {
			violations = append(violations, apperr.Violation{Field: "customer_id", Message: "must not be empty"})
		}
		req.CustomerID = id
	default:
		violations = append(violations, apperr.Violation{Field: "customer_id", Message: "must be a string"})
	}

	switch body := raw["features"].(type) {
	case nil:
		violations = append(violations, apperr.Violation{Field: "features", Message: "field required"})
	case map[string]any:
		f, fv := parseFeatures(body, "features.")
		violations = append(violations, fv...)
		req.Features = f
	default:
		violations = append(violations, apperr.Violation{Field: "features", Message: "must be an object"})
	}

	if len(violations) > 0 {
		return PredictionRequest{}, apperr.Validation(violations)
	}
	return req, nil
}

func parseFeatures(raw map[string]any, prefix string) (CustomerFeatures, []apperr.Violation) {
	var (
		f          CustomerFeatures
		violations []apperr.Violation
		malformed  = make(map[string]bool)
	)
	fail := func(field, msg string) {
		malformed[field] = true
		violations = append(violations, apperr.Violation{Field: prefix + field, Message: msg})
	}

	if s, msg, ok := stringField(raw, ColSubscriptionType); ok {
		f.SubscriptionType = SubscriptionType(s)
	} else {
		fail(ColSubscriptionType, msg)
	}
	if s, msg, ok := stringField(raw, ColPaymentMethod); ok {
		f.PaymentMethod = PaymentMethod(s)
	} else {
		fail(ColPaymentMethod, msg)
	}

	floats := []struct {
		name string
		dst  *float64
	}{
		{ColWatchHours, &f.WatchHours},
		{ColMonthlyFee, &f.MonthlyFee},
		{ColAvgWatchTimePerDay, &f.AvgWatchTimePerDay},
	}
	for _, fl := range floats {
		v, msg, ok := numberField(raw, fl.name)
		if !ok {
			fail(fl.name, msg)
			continue
		}
		*fl.dst = v
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{ColLastLoginDays, &f.LastLoginDays},
		{ColNumberOfProfiles, &f.NumberOfProfiles},
	}
	for _, in := range ints {
		v, msg, ok := numberField(raw, in.name)
		if !ok {
			fail(in.name, msg)
			continue
		}
		if v != math.Trunc(v) || math.Abs(v) > maxExactInt {
			fail(in.name, "must be an integer")
			continue
		}
		*in.dst = int(v)
	}

	// Range and enum checks only for fields that parsed; a field is reported once.
	for _, v := range validationViolations(f) {
		if malformed[v.Field] {
			continue
		}
		v.Field = prefix + v.Field
		violations = append(violations, v)
	}
	return f, violations
}

func stringField(raw map[string]any, name string) (string, string, bool) {
	v, present := raw[name]
	if !present {
		return "", "field required", false
	}
	s, ok := v.(string)
	if !ok {
		return "", "must be a string", false
	}
	return s, "", true
}

func numberField(raw map[string]any, name string) (float64, string, bool) {
	v, present := raw[name]
	if !present {
		return 0, "field required", false
	}
	switch v.(type) {
	case nil:
		return 0, "must not be null", false
	case bool:
		return 0, "must be a number", false
	}
	n, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, fmt.Sprintf("must be a number, got %T", v), false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, "must be a finite number", false
	}
	return n, "", true
}
