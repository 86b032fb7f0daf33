package usecase

import (
	"fmt"
	"strings"
	"time"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

var actionTypes = map[domain.Service]string{
	domain.ServiceChat:       "chat_completion",
	domain.ServiceCodeAssist: "code_completion",
	domain.ServiceAPI:        "api_call",
	domain.ServiceWebUI:      "web_interaction",
}

// BuildEnrichmentRequest derives the metadata-only payload for an event.
func BuildEnrichmentRequest(event domain.AIUsageEvent) domain.EnrichmentRequest {
	userID := event.Email()
	if userID == "" {
		userID = "unknown"
	}
	action, ok := actionTypes[event.Service]
	if !ok {
		action = "other"
	}
	policyFlags := append([]string{}, event.RiskReasons...)

	return domain.EnrichmentRequest{
		EventID:        event.ID,
		Timestamp:      event.Timestamp.UTC().Format(time.RFC3339),
		UserID:         userID,
		DepartmentHint: event.Department,
		Tool:           event.Provider,
		Model:          event.Service,
		ActionType:     action,
		InputSnippet:   fmt.Sprintf("User accessed %s AI service", event.Provider),
		ExistingRisk: domain.ExistingRisk{
			RiskScore:   event.RiskLevel.Score(),
			RiskLevel:   strings.ToUpper(string(event.RiskLevel)),
			ContainsPII: event.PIIRisk,
			PolicyFlags: policyFlags,
		},
	}
}
