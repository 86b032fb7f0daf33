package classifier

import (
	"strings"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// LargeTransferThreshold is the bytes_sent at which a known-provider request
// is treated as a large data transfer.
const LargeTransferThreshold = 4096

// Risk reason codes.
const (
	ReasonHighSensitivityDepartment   = "high_sensitivity_department"
	ReasonLargeDataTransfer           = "large_data_transfer"
	ReasonUnknownAIProvider           = "unknown_ai_provider"
	ReasonMediumSensitivityDepartment = "medium_sensitivity_department"
	ReasonExternalAIUsage             = "external_ai_usage"
	ReasonLowRiskAIUsage              = "low_risk_ai_usage"
)

var riskExplanations = map[string]string{
	ReasonHighSensitivityDepartment:   "High-sensitivity department using external AI",
	ReasonLargeDataTransfer:           "Large data transfer detected",
	ReasonUnknownAIProvider:           "Unknown/unsanctioned AI tool detected",
	ReasonMediumSensitivityDepartment: "Medium-sensitivity department using external AI",
	ReasonExternalAIUsage:             "External AI tool usage",
	ReasonLowRiskAIUsage:              "Standard AI usage",
}

// ClassifyRisk runs the risk cascade. Any high-tier reason short-circuits the
// medium and low tiers; the result always carries at least one reason.
func ClassifyRisk(event *domain.AIUsageEvent) (domain.RiskLevel, []string) {
	department := event.DepartmentName()
	_, highSensitivity := domain.HighSensitivityDepartments[department]
	_, mediumSensitivity := domain.MediumSensitivityDepartments[department]

	known := event.Provider != domain.ProviderUnknown
	largeTransfer := event.BytesSent != nil && *event.BytesSent >= LargeTransferThreshold

	var reasons []string
	if known && highSensitivity {
		reasons = append(reasons, ReasonHighSensitivityDepartment)
	}
	if known && largeTransfer {
		reasons = append(reasons, ReasonLargeDataTransfer)
	}
	if !known && strings.Contains(strings.ToLower(event.URL), "ai") {
		reasons = append(reasons, ReasonUnknownAIProvider)
	}
	if len(reasons) > 0 {
		return domain.RiskHigh, reasons
	}

	if known && mediumSensitivity {
		return domain.RiskMedium, []string{ReasonMediumSensitivityDepartment}
	}
	if known {
		return domain.RiskMedium, []string{ReasonExternalAIUsage}
	}
	return domain.RiskLow, []string{ReasonLowRiskAIUsage}
}

// RiskExplanation joins the human-readable text of each reason with "; ".
// Unrecognised codes are passed through.
func RiskExplanation(reasons []string) string {
	parts := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		if text, ok := riskExplanations[reason]; ok {
			parts = append(parts, text)
			continue
		}
		parts = append(parts, reason)
	}
	return strings.Join(parts, "; ")
}
