package pii

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	// LargePayloadThreshold flags uploads big enough to be documents or records.
	LargePayloadThreshold = 10000
	// SensitivePayloadThreshold applies to high-sensitivity departments only.
	SensitivePayloadThreshold = 4096
)

// Reason codes. Keyword matches are reported as KeywordReasonPrefix + keyword.
const (
	ReasonLargePayload          = "large_payload"
	ReasonHighSensitivityUpload = "high_sensitivity_large_payload"
	ReasonSSNPattern            = "ssn_pattern_in_url"
	ReasonEmailPattern          = "email_pattern_in_url"
	KeywordReasonPrefix         = "pii_keyword_in_url:"
)

// Keywords are checked in order and only the first hit is reported.
var Keywords = []string{
	"patient", "claim", "record", "ssn", "dob", "mrn",
	"medical", "diagnosis", "prescription", "phi", "pii",
	"confidential", "hipaa",
}

var (
	ssnPattern   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// Assessor flags events whose metadata suggests PII or PHI exposure.
type Assessor struct {
	logger *slog.Logger
}

// NewAssessor creates a new Assessor.
func NewAssessor(logger *slog.Logger) *Assessor {
	return &Assessor{logger: logger.With("component", "pii_assessor")}
}

// Assess evaluates every rule independently and returns the union of reasons.
// Missing byte counts or departments never fire a rule.
func (a *Assessor) Assess(event *domain.AIUsageEvent) (bool, []string) {
	reasons := []string{}

	if event.BytesSent != nil && *event.BytesSent >= LargePayloadThreshold {
		reasons = append(reasons, ReasonLargePayload)
	}
	if _, ok := domain.HighSensitivityDepartments[event.DepartmentName()]; ok &&
		event.BytesSent != nil && *event.BytesSent >= SensitivePayloadThreshold {
		reasons = append(reasons, ReasonHighSensitivityUpload)
	}

	lower := strings.ToLower(event.URL)
	for _, kw := range Keywords {
		if strings.Contains(lower, kw) {
			reasons = append(reasons, KeywordReasonPrefix+kw)
			break
		}
	}

	if ssnPattern.MatchString(event.URL) {
		reasons = append(reasons, ReasonSSNPattern)
	}

	if u, err := url.Parse(event.URL); err != nil {
		a.logger.Debug("skipping email check on unparseable url", "event_id", event.ID, "error", err)
	} else if emailPattern.MatchString(u.EscapedPath() + u.RawQuery) {
		reasons = append(reasons, ReasonEmailPattern)
	}

	return len(reasons) > 0, reasons
}

// ReasonExplanation returns the human-readable text for a reason code.
func ReasonExplanation(reason string) string {
	if kw, ok := strings.CutPrefix(reason, KeywordReasonPrefix); ok {
		return "URL contains PII-related keyword '" + kw + "'"
	}
	switch reason {
	case ReasonLargePayload:
		return "Large payload (>10KB) suggests document or record upload"
	case ReasonHighSensitivityUpload:
		return "High-sensitivity department with large payload (>4KB)"
	case ReasonSSNPattern:
		return "Social Security Number pattern detected in URL"
	case ReasonEmailPattern:
		return "Email address pattern detected in URL"
	}
	return reason
}
