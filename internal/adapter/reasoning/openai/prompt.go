package openai

import "github.com/V4T54L/shadow-ai-watch/internal/domain"

const systemPrompt = `You classify a single AI usage event observed on an enterprise network.
Infer the business value and governance context of the event from its metadata only.
Reply with ONLY a JSON object holding exactly these keys and no others:
{
  "value_category": "Productivity" | "Quality" | "Revenue" | "CostReduction" | "Innovation",
  "estimated_minutes_saved": <non-negative integer>,
  "business_outcome": "<business result this usage enables>",
  "department": "<inferred department or 'Unknown'>",
  "risk_level": "Low" | "Medium" | "High",
  "policy_alignment": "Compliant" | "Questionable" | "Non-compliant",
  "summary": "<one or two sentence summary>"
}
When unsure, pick the safest value: department "Unknown", policy_alignment "Questionable".`

// responseSchema is the strict structured-output schema of the seven-field contract.
func responseSchema() map[string]any {
	properties := map[string]any{
		"value_category": map[string]any{
			"type": "string",
			"enum": []string{
				string(domain.ValueProductivity), string(domain.ValueQuality), string(domain.ValueRevenue),
				string(domain.ValueCostReduction), string(domain.ValueInnovation),
			},
		},
		"estimated_minutes_saved": map[string]any{"type": "integer", "minimum": 0},
		"business_outcome":        map[string]any{"type": "string"},
		"department":              map[string]any{"type": "string"},
		"risk_level":              map[string]any{"type": "string", "enum": []string{"Low", "Medium", "High"}},
		"policy_alignment": map[string]any{
			"type": "string",
			"enum": []string{
				string(domain.PolicyCompliant), string(domain.PolicyQuestionable), string(domain.PolicyNonCompliant),
			},
		},
		"summary": map[string]any{"type": "string"},
	}
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             domain.EnrichmentFields,
		"additionalProperties": false,
	}
}
