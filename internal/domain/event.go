package domain

import "time"

// Provider identifies a known AI vendor.
type Provider string

const (
	ProviderOpenAI        Provider = "openai"
	ProviderAnthropic     Provider = "anthropic"
	ProviderGoogle        Provider = "google"
	ProviderGitHubCopilot Provider = "github_copilot"
	ProviderPerplexity    Provider = "perplexity"
	ProviderUnknown       Provider = "unknown"
)

// Service identifies the kind of AI endpoint that was called.
type Service string

const (
	ServiceChat       Service = "chat"
	ServiceEmbeddings Service = "embeddings"
	ServiceCodeAssist Service = "code_assist"
	ServiceWebUI      Service = "web_ui"
	ServiceAPI        Service = "api"
	ServiceUnknown    Service = "unknown"
)

// RiskLevel is the coarse security risk tier of an event.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// Valid reports whether r is one of the three tiers.
func (r RiskLevel) Valid() bool {
	return r == RiskLow || r == RiskMedium || r == RiskHigh
}

// Score maps the tier to the numeric score sent to the reasoning service.
func (r RiskLevel) Score() int {
	switch r {
	case RiskLow:
		return 20
	case RiskHigh:
		return 80
	default:
		return 50
	}
}

// UseCase is the inferred business intent of an event.
type UseCase string

const (
	UseCaseContentGeneration UseCase = "content_generation"
	UseCaseCodeAssistance    UseCase = "code_assistance"
	UseCaseDataExtraction    UseCase = "data_extraction"
	UseCaseAnalysisOrChat    UseCase = "analysis_or_chat"
	UseCaseUnknown           UseCase = "unknown"
)

// DefaultSourceSystem is stamped on events when the caller does not name one.
const DefaultSourceSystem = "network_logs_v1"

// Departments whose AI usage is treated as high or medium sensitivity.
var (
	HighSensitivityDepartments = map[string]struct{}{
		"Clinical":          {},
		"Claims":            {},
		"Legal":             {},
		"Trading":           {},
		"Underwriting":      {},
		"Wealth Management": {},
	}
	MediumSensitivityDepartments = map[string]struct{}{
		"Finance": {},
		"HR":      {},
	}
)

// AIUsageEvent is a single proxy log row that was identified as an AI request,
// together with its classification and (once available) enrichment projection.
type AIUsageEvent struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	UserEmail     *string   `json:"user_email"`
	Department    *string   `json:"department"`
	SourceIP      *string   `json:"source_ip"`
	Provider      Provider  `json:"provider"`
	Service       Service   `json:"service"`
	URL           string    `json:"url"`
	BytesSent     *int64    `json:"bytes_sent"`
	BytesReceived *int64    `json:"bytes_received"`
	RiskLevel     RiskLevel `json:"risk_level"`
	RiskReasons   []string  `json:"risk_reasons"`
	SourceSystem  string    `json:"source_system"`
	Notes         *string   `json:"notes"`
	PIIRisk       bool      `json:"pii_risk"`
	PIIReasons    []string  `json:"pii_reasons"`
	UseCase       UseCase   `json:"use_case"`

	// Enrichment projection, nil until the event has been enriched.
	ValueCategory         *ValueCategory   `json:"value_category"`
	EstimatedMinutesSaved *int             `json:"estimated_minutes_saved"`
	BusinessOutcome       *string          `json:"business_outcome"`
	PolicyAlignment       *PolicyAlignment `json:"policy_alignment"`
	ValueSummary          *string          `json:"value_summary"`
	ValueEnriched         bool             `json:"value_enriched"`
}

// DepartmentName returns the department or "" when absent.
func (e *AIUsageEvent) DepartmentName() string {
	if e.Department == nil {
		return ""
	}
	return *e.Department
}

// Email returns the user email or "" when absent.
func (e *AIUsageEvent) Email() string {
	if e.UserEmail == nil {
		return ""
	}
	return *e.UserEmail
}

// BytesSentOrZero treats a missing byte count as zero.
func (e *AIUsageEvent) BytesSentOrZero() int64 {
	if e.BytesSent == nil {
		return 0
	}
	return *e.BytesSent
}

// HasRiskReason reports whether reason was recorded by the risk classifier.
func (e *AIUsageEvent) HasRiskReason(reason string) bool {
	for _, r := range e.RiskReasons {
		if r == reason {
			return true
		}
	}
	return false
}

// ApplyEnrichment copies the projection fields of a successful result onto the event.
func (e *AIUsageEvent) ApplyEnrichment(res EnrichmentResult) {
	category := res.ValueCategory
	minutes := res.EstimatedMinutesSaved
	outcome := res.BusinessOutcome
	alignment := res.PolicyAlignment
	summary := res.Summary

	e.ValueCategory = &category
	e.EstimatedMinutesSaved = &minutes
	e.BusinessOutcome = &outcome
	e.PolicyAlignment = &alignment
	e.ValueSummary = &summary
	e.ValueEnriched = true
}
