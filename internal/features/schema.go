// Package features defines the customer feature vector consumed by the churn
// classifier and the validation contract every vector must pass before any
// inference attempt.
package features

// SubscriptionType is the customer's plan.
type SubscriptionType string

const (
	SubscriptionBasic    SubscriptionType = "Basic"
	SubscriptionStandard SubscriptionType = "Standard"
	SubscriptionPremium  SubscriptionType = "Premium"
)

// SubscriptionTypes lists the accepted literals in declaration order.
var SubscriptionTypes = []SubscriptionType{SubscriptionBasic, SubscriptionStandard, SubscriptionPremium}

// Valid reports whether s is one of the accepted literals (case-sensitive).
func (s SubscriptionType) Valid() bool {
	for _, v := range SubscriptionTypes {
		if s == v {
			return true
		}
	}
	return false
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentCreditCard PaymentMethod = "Credit Card"
	PaymentDebitCard  PaymentMethod = "Debit Card"
	PaymentPayPal     PaymentMethod = "PayPal"
	PaymentGiftCard   PaymentMethod = "Gift Card"
	PaymentCrypto     PaymentMethod = "Crypto"
)

// PaymentMethods lists the accepted literals in declaration order.
var PaymentMethods = []PaymentMethod{PaymentCreditCard, PaymentDebitCard, PaymentPayPal, PaymentGiftCard, PaymentCrypto}

// Valid reports whether p is one of the accepted literals (case-sensitive).
func (p PaymentMethod) Valid() bool {
	for _, v := range PaymentMethods {
		if p == v {
			return true
		}
	}
	return false
}

// Column names, as the artifact was trained with them.
const (
	ColSubscriptionType   = "subscription_type"
	ColWatchHours         = "watch_hours"
	ColLastLoginDays      = "last_login_days"
	ColMonthlyFee         = "monthly_fee"
	ColNumberOfProfiles   = "number_of_profiles"
	ColAvgWatchTimePerDay = "avg_watch_time_per_day"
	ColPaymentMethod      = "payment_method"
)

// ColumnOrder is the training-time column sequence. It is a contract with the
// artifact: never reorder or filter it, and change it only together with a new
// artifact.
var ColumnOrder = [...]string{
	ColSubscriptionType,
	ColWatchHours,
	ColLastLoginDays,
	ColMonthlyFee,
	ColNumberOfProfiles,
	ColAvgWatchTimePerDay,
	ColPaymentMethod,
}

// Columns returns a fresh copy of ColumnOrder.
func Columns() []string {
	out := make([]string, len(ColumnOrder))
	copy(out, ColumnOrder[:])
	return out
}

// CustomerFeatures holds one customer's attributes used for inference.
type CustomerFeatures struct {
	SubscriptionType   SubscriptionType `json:"subscription_type" yaml:"subscription_type" validate:"subscription"`
	WatchHours         float64          `json:"watch_hours" yaml:"watch_hours" validate:"gte=0"`
	LastLoginDays      int              `json:"last_login_days" yaml:"last_login_days" validate:"gte=0"`
	MonthlyFee         float64          `json:"monthly_fee" yaml:"monthly_fee" validate:"gte=0"`
	NumberOfProfiles   int              `json:"number_of_profiles" yaml:"number_of_profiles" validate:"gte=1,lte=5"`
	AvgWatchTimePerDay float64          `json:"avg_watch_time_per_day" yaml:"avg_watch_time_per_day" validate:"gte=0,lte=24"`
	PaymentMethod      PaymentMethod    `json:"payment_method" yaml:"payment_method" validate:"payment"`
}

// PredictionRequest is a customer id plus its features. Treat it as immutable
// once built.
type PredictionRequest struct {
	CustomerID string           `json:"customer_id"`
	Features   CustomerFeatures `json:"features"`
}
