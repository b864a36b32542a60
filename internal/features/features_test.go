package features

import (
	"encoding/json"
	"testing"

	"churninsight/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRaw() map[string]any {
	return map[string]any{
		"subscription_type":      "Basic",
		"watch_hours":            10.5,
		"last_login_days":        60.0,
		"monthly_fee":            8.99,
		"number_of_profiles":     1.0,
		"avg_watch_time_per_day": 0.5,
		"payment_method":         "Credit Card",
	}
}

func violationFields(t *testing.T, err error) []string {
	t.Helper()
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, apperr.KindValidation, appErr.Kind)
	fields := make([]string, len(appErr.Violations))
	for i, v := range appErr.Violations {
		fields[i] = v.Field
	}
	return fields
}

func TestParse_Valid(t *testing.T) {
	f, err := Parse(validRaw())
	require.NoError(t, err)

	assert.Equal(t, CustomerFeatures{
		SubscriptionType:   SubscriptionBasic,
		WatchHours:         10.5,
		LastLoginDays:      60,
		MonthlyFee:         8.99,
		NumberOfProfiles:   1,
		AvgWatchTimePerDay: 0.5,
		PaymentMethod:      PaymentCreditCard,
	}, f)
}

func TestParse_SingleViolations(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value any
	}{
		{"unknown subscription", ColSubscriptionType, "Invalid"},
		{"lowercase subscription", ColSubscriptionType, "basic"},
		{"unknown payment", ColPaymentMethod, "Cash"},
		{"payment without space", ColPaymentMethod, "CreditCard"},
		{"negative watch hours", ColWatchHours, -10.0},
		{"negative last login", ColLastLoginDays, -1.0},
		{"negative fee", ColMonthlyFee, -0.01},
		{"zero profiles", ColNumberOfProfiles, 0.0},
		{"too many profiles", ColNumberOfProfiles, 10.0},
		{"negative daily watch", ColAvgWatchTimePerDay, -0.1},
		{"daily watch above 24", ColAvgWatchTimePerDay, 24.5},
		{"fractional profiles", ColNumberOfProfiles, 2.5},
		{"fractional last login", ColLastLoginDays, 1.5},
		{"string not a number", ColWatchHours, "ten"},
		{"bool is not a number", ColMonthlyFee, true},
		{"null number", ColWatchHours, nil},
		{"number as subscription", ColSubscriptionType, 3.0},
		{"NaN string", ColWatchHours, "NaN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw[tt.field] = tt.value

			_, err := Parse(raw)
			assert.Equal(t, []string{tt.field}, violationFields(t, err))
		})
	}
}

func TestParse_BoundariesAccepted(t *testing.T) {
	raw := validRaw()
	raw[ColWatchHours] = 0.0
	raw[ColLastLoginDays] = 0.0
	raw[ColMonthlyFee] = 0.0
	raw[ColNumberOfProfiles] = 5.0
	raw[ColAvgWatchTimePerDay] = 24.0

	_, err := Parse(raw)
	assert.NoError(t, err)

	raw[ColAvgWatchTimePerDay] = 0.0
	raw[ColNumberOfProfiles] = 1.0
	_, err = Parse(raw)
	assert.NoError(t, err)
}

func TestParse_NumericStringsCoerced(t *testing.T) {
	raw := validRaw()
	raw[ColWatchHours] = "12.25"
	raw[ColNumberOfProfiles] = "3"
	raw[ColLastLoginDays] = json.Number("7")

	f, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, 12.25, f.WatchHours)
	assert.Equal(t, 3, f.NumberOfProfiles)
	assert.Equal(t, 7, f.LastLoginDays)
}

func TestParse_AggregatesAllViolations(t *testing.T) {
	raw := validRaw()
	raw[ColSubscriptionType] = "Invalid"
	raw[ColWatchHours] = -10.0
	raw[ColNumberOfProfiles] = 10.0
	delete(raw, ColPaymentMethod)

	_, err := Parse(raw)
	assert.Equal(t, []string{
		ColNumberOfProfiles,
		ColPaymentMethod,
		ColSubscriptionType,
		ColWatchHours,
	}, violationFields(t, err))
}

func TestParse_MissingEverything(t *testing.T) {
	_, err := Parse(map[string]any{})
	assert.Len(t, violationFields(t, err), len(ColumnOrder))
}

func TestParseRequest(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req, err := ParseRequest(map[string]any{"customer_id": "c1", "features": validRaw()})
		require.NoError(t, err)
		assert.Equal(t, "c1", req.CustomerID)
		assert.Equal(t, SubscriptionBasic, req.Features.SubscriptionType)
	})

	t.Run("empty id and bad feature are both reported", func(t *testing.T) {
		raw := validRaw()
		raw[ColWatchHours] = -1.0
		_, err := ParseRequest(map[string]any{"customer_id": "  ", "features": raw})
		assert.Equal(t, []string{"customer_id", "features.watch_hours"}, violationFields(t, err))
	})

	t.Run("missing features", func(t *testing.T) {
		_, err := ParseRequest(map[string]any{"customer_id": "c1"})
		assert.Equal(t, []string{"features"}, violationFields(t, err))
	})

	t.Run("features not an object", func(t *testing.T) {
		_, err := ParseRequest(map[string]any{"customer_id": "c1", "features": []any{1, 2}})
		assert.Equal(t, []string{"features"}, violationFields(t, err))
	})

	t.Run("numeric customer id", func(t *testing.T) {
		_, err := ParseRequest(map[string]any{"customer_id": 12.0, "features": validRaw()})
		assert.Equal(t, []string{"customer_id"}, violationFields(t, err))
	})
}

func TestValidate_TypedValue(t *testing.T) {
	f := CustomerFeatures{
		SubscriptionType:   SubscriptionPremium,
		WatchHours:         1,
		NumberOfProfiles:   6,
		AvgWatchTimePerDay: 1,
		PaymentMethod:      PaymentCrypto,
	}
	assert.Equal(t, []string{ColNumberOfProfiles}, violationFields(t, Validate(f)))

	f.NumberOfProfiles = 2
	assert.NoError(t, Validate(f))
}

func TestColumns_ReturnsCopy(t *testing.T) {
	cols := Columns()
	require.Equal(t, []string{
		"subscription_type",
		"watch_hours",
		"last_login_days",
		"monthly_fee",
		"number_of_profiles",
		"avg_watch_time_per_day",
		"payment_method",
	}, cols)

	cols[0] = "mutated"
	assert.Equal(t, ColSubscriptionType, ColumnOrder[0])
}
