// Package insights turns stored predictions into dashboard figures: risk
// tiers, portfolio KPIs and per-customer explanations.
package insights

import (
	"fmt"

	"churninsight/internal/common"
	"churninsight/internal/features"
)

// RiskLevel buckets a churn probability.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// LevelFor maps a probability to its tier. Bounds are inclusive.
func LevelFor(p float64) RiskLevel {
	switch {
	case p >= common.HighRiskThreshold:
		return RiskHigh
	case p >= common.MediumRiskThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Rule thresholds for risk factors.
const (
	inactiveDays      = 40
	recentDays        = 20
	lowWatchHours     = 5
	highWatchHours    = 20
	lowDailyAverage   = 0.5
	contentNudgeHours = 10
)

// Factors lists what drives the customer's risk. Low-risk customers also
// get the signals keeping them around.
func Factors(f features.CustomerFeatures, level RiskLevel) []string {
	out := []string{}

	if f.LastLoginDays >= inactiveDays {
		out = append(out, fmt.Sprintf("Has not accessed the platform in more than %d days", f.LastLoginDays))
	}
	if f.WatchHours <= lowWatchHours {
		out = append(out, fmt.Sprintf("Low content consumption (%.1f hours watched)", f.WatchHours))
	}
	if f.AvgWatchTimePerDay < lowDailyAverage {
		out = append(out, "Very low daily viewing average")
	}
	if f.SubscriptionType == features.SubscriptionBasic {
		out = append(out, "Basic plan customers cancel more often")
	}
	if f.PaymentMethod == features.PaymentCrypto {
		out = append(out, "Crypto payment is strongly correlated with churn")
	}

	if level == RiskLow {
		if f.SubscriptionType == features.SubscriptionPremium {
			out = append(out, "Premium plan shows high retention")
		}
		if f.WatchHours >= highWatchHours {
			out = append(out, "High content consumption")
		}
		if f.LastLoginDays <= recentDays {
			out = append(out, "Accessed the platform recently")
		}
	}
	return out
}

// SuggestedAction picks the retention action for a customer.
func SuggestedAction(f features.CustomerFeatures, level RiskLevel) string {
	switch level {
	case RiskHigh:
		switch {
		case f.PaymentMethod == features.PaymentCrypto:
			return "Offer migration to debit card or PayPal with a loyalty benefit"
		case f.LastLoginDays >= inactiveDays:
			return "Launch a reactivation campaign with personalized recommendations"
		default:
			return "Proactive contact with a retention offer or plan change"
		}
	case RiskMedium:
		if f.SubscriptionType == features.SubscriptionStandard && f.WatchHours < contentNudgeHours {
			return "Suggest featured content matching viewing history"
		}
		return "Offer a discount for upgrading to an annual plan"
	case RiskLow:
		if f.SubscriptionType != features.SubscriptionPremium {
			return "Offer a free Premium trial"
		}
		return "Include in the loyalty and referral program"
	default:
		return "Monitor"
	}
}

// Recommendation is the short campaign text attached to a prediction.
func Recommendation(f features.CustomerFeatures, level RiskLevel) string {
	switch level {
	case RiskHigh:
		switch {
		case f.LastLoginDays >= inactiveDays:
			return "Urgent re-engagement: send a personalized push notification"
		case f.PaymentMethod == features.PaymentCrypto:
			return "Critical retention: migrate the payment method"
		default:
			return "Direct contact: satisfaction survey and personalized offer"
		}
	case RiskMedium:
		return "Incentive: recommend featured content"
	case RiskLow:
		return "Loyalty: invite to the benefits and referral program"
	default:
		return "Standard follow-up"
	}
}
