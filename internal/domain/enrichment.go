package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ValueCategory is the business-value bucket assigned by the reasoning service.
type ValueCategory string

const (
	ValueProductivity  ValueCategory = "Productivity"
	ValueQuality       ValueCategory = "Quality"
	ValueRevenue       ValueCategory = "Revenue"
	ValueCostReduction ValueCategory = "CostReduction"
	ValueInnovation    ValueCategory = "Innovation"
)

func (v ValueCategory) Valid() bool {
	switch v {
	case ValueProductivity, ValueQuality, ValueRevenue, ValueCostReduction, ValueInnovation:
		return true
	}
	return false
}

// PolicyAlignment is the compliance judgment assigned by the reasoning service.
type PolicyAlignment string

const (
	PolicyCompliant    PolicyAlignment = "Compliant"
	PolicyQuestionable PolicyAlignment = "Questionable"
	PolicyNonCompliant PolicyAlignment = "Non-compliant"
)

func (p PolicyAlignment) Valid() bool {
	return p == PolicyCompliant || p == PolicyQuestionable || p == PolicyNonCompliant
}

// MaxMinutesSaved is the largest estimate the store's INTEGER column accepts.
const MaxMinutesSaved = math.MaxInt32

// UnknownDepartment is the placeholder used when the service cannot infer one.
const UnknownDepartment = "Unknown"

// EnrichmentResult is the seven-field structured response of the reasoning service.
type EnrichmentResult struct {
	ValueCategory         ValueCategory   `json:"value_category"`
	EstimatedMinutesSaved int             `json:"estimated_minutes_saved"`
	BusinessOutcome       string          `json:"business_outcome"`
	Department            string          `json:"department"`
	RiskLevel             string          `json:"risk_level"`
	PolicyAlignment       PolicyAlignment `json:"policy_alignment"`
	Summary               string          `json:"summary"`
}

// FailedEnrichmentPlaceholder is stored on the enrichment record when every
// attempt for an event failed.
func FailedEnrichmentPlaceholder() EnrichmentResult {
	return EnrichmentResult{
		ValueCategory:         "Unknown",
		EstimatedMinutesSaved: 0,
		BusinessOutcome:       "",
		Department:            UnknownDepartment,
		RiskLevel:             "Medium",
		PolicyAlignment:       PolicyQuestionable,
		Summary:               "Enrichment failed",
	}
}

// EnrichmentOutcome is what the orchestrator hands to the store for one event.
// A non-empty Error marks a failed attempt; the event stays eligible for retry.
// Override allows replacing the enrichment of an already enriched event.
type EnrichmentOutcome struct {
	Result      EnrichmentResult
	RawResponse string
	Error       string
	Override    bool
}

// Succeeded reports whether the outcome should flip the event to enriched.
func (o EnrichmentOutcome) Succeeded() bool {
	return o.Error == ""
}

// EnrichmentRecord is the persisted audit row for an event's enrichment.
type EnrichmentRecord struct {
	EventID     string           `json:"event_id"`
	Result      EnrichmentResult `json:"result"`
	RawResponse *string          `json:"raw_response"`
	Error       *string          `json:"error"`
	Attempts    int              `json:"attempts"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// ExistingRisk is the classification context forwarded to the reasoning service.
type ExistingRisk struct {
	RiskScore   int      `json:"risk_score"`
	RiskLevel   string   `json:"risk_level"`
	ContainsPII bool     `json:"contains_pii"`
	PolicyFlags []string `json:"policy_flags"`
}

// EnrichmentRequest is the sanitized metadata payload sent to the reasoning
// service. It never carries request bodies.
type EnrichmentRequest struct {
	EventID        string       `json:"event_id"`
	Timestamp      string       `json:"timestamp"`
	UserID         string       `json:"user_id"`
	DepartmentHint *string      `json:"department_hint"`
	Tool           Provider     `json:"tool"`
	Model          Service      `json:"model"`
	ActionType     string       `json:"action_type"`
	InputSnippet   string       `json:"input_snippet"`
	ExistingRisk   ExistingRisk `json:"existing_risk"`
}

// EnrichmentFields lists the keys the reasoning service must return, in schema order.
var EnrichmentFields = []string{
	"value_category",
	"estimated_minutes_saved",
	"business_outcome",
	"department",
	"risk_level",
	"policy_alignment",
	"summary",
}

// ParseEnrichment validates a raw service response against the fixed
// seven-field contract. Uncertain department and policy values are replaced
// with safe placeholders.
func ParseEnrichment(raw []byte) (EnrichmentResult, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(bytes.TrimSpace(raw), &fields); err != nil {
		return EnrichmentResult{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	var missing, extra []string
	for _, key := range EnrichmentFields {
		if _, ok := fields[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return EnrichmentResult{}, fmt.Errorf("%w: missing required fields: %s", ErrSchemaViolation, strings.Join(missing, ", "))
	}
	if len(fields) != len(EnrichmentFields) {
		known := make(map[string]struct{}, len(EnrichmentFields))
		for _, key := range EnrichmentFields {
			known[key] = struct{}{}
		}
		for key := range fields {
			if _, ok := known[key]; !ok {
				extra = append(extra, key)
			}
		}
		sort.Strings(extra)
		return EnrichmentResult{}, fmt.Errorf("%w: unexpected fields: %s", ErrSchemaViolation, strings.Join(extra, ", "))
	}

	var res EnrichmentResult
	var minutes float64
	decode := func(key string, dst any) error {
		if err := json.Unmarshal(fields[key], dst); err != nil {
			return fmt.Errorf("%w: field %s: %v", ErrSchemaViolation, key, err)
		}
		return nil
	}
	if err := decode("value_category", &res.ValueCategory); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("estimated_minutes_saved", &minutes); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("business_outcome", &res.BusinessOutcome); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("department", &res.Department); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("risk_level", &res.RiskLevel); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("policy_alignment", &res.PolicyAlignment); err != nil {
		return EnrichmentResult{}, err
	}
	if err := decode("summary", &res.Summary); err != nil {
		return EnrichmentResult{}, err
	}

	if !res.ValueCategory.Valid() {
		return EnrichmentResult{}, fmt.Errorf("%w: unknown value_category %q", ErrSchemaViolation, res.ValueCategory)
	}
	if math.IsNaN(minutes) || minutes < 0 || minutes > MaxMinutesSaved {
		return EnrichmentResult{}, fmt.Errorf("%w: estimated_minutes_saved %v out of range [0, %d]", ErrSchemaViolation, minutes, MaxMinutesSaved)
	}
	if minutes != math.Trunc(minutes) {
		return EnrichmentResult{}, fmt.Errorf("%w: estimated_minutes_saved %v is not an integer", ErrSchemaViolation, minutes)
	}
	res.EstimatedMinutesSaved = int(minutes)

	if strings.TrimSpace(res.Department) == "" {
		res.Department = UnknownDepartment
	}
	if !res.PolicyAlignment.Valid() {
		res.PolicyAlignment = PolicyQuestionable
	}
	return res, nil
}
