package domain

import "time"

// Summary is the aggregated view over a collection of events consumed by the
// reporting layer as summary.json.
type Summary struct {
	KPIs                    KPIs             `json:"kpis"`
	RiskCounts              RiskCounts       `json:"risk_counts"`
	EventsByProvider        map[string]int   `json:"events_by_provider"`
	EventsByDepartment      map[string]int   `json:"events_by_department"`
	HighRiskEventsByDept    map[string]int   `json:"high_risk_events_by_department"`
	TimeRange               TimeRange        `json:"time_range"`
	EventsPerDay            map[string]int   `json:"events_per_day"`
	PIIEventsByDepartment   map[string]int   `json:"pii_events_by_department"`
	EventsByUseCase         map[string]int   `json:"events_by_use_case"`
	HighRiskEventsByUseCase map[string]int   `json:"high_risk_events_by_use_case"`
	TopDepartments          []DepartmentRank `json:"top_departments"`
	TopHighRiskUsers        []UserRank       `json:"top_high_risk_users"`
	TopRisks                []RiskFinding    `json:"top_risks"`
	ShadowAIProfile         string           `json:"shadow_ai_profile"`
	ValueEnrichment         ValueSummary     `json:"value_enrichment"`
}

// KPIs are the headline numbers of a summary. Percentages carry one decimal.
type KPIs struct {
	TotalEvents              int     `json:"total_events"`
	UniqueUsers              int     `json:"unique_users"`
	ShadowAIEvents           int     `json:"shadow_ai_events"`
	ShadowAIPercentage       float64 `json:"shadow_ai_percentage"`
	HighRiskEvents           int     `json:"high_risk_events"`
	HighRiskPercentage       float64 `json:"high_risk_percentage"`
	PIIEventsCount           int     `json:"pii_events_count"`
	PIIEventsPercentage      float64 `json:"pii_events_percentage"`
	EnrichedEventsCount      int     `json:"enriched_events_count"`
	EnrichedEventsPercentage float64 `json:"enriched_events_percentage"`
	TotalMinutesSaved        int     `json:"total_minutes_saved"`
	TotalHoursSaved          float64 `json:"total_hours_saved"`
}

type RiskCounts struct {
	Low    int `json:"low"`
	Medium int `json:"medium"`
	High   int `json:"high"`
}

// Total is the number of classified events across all tiers.
func (c RiskCounts) Total() int {
	return c.Low + c.Medium + c.High
}

type TimeRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

type DepartmentRank struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type UserRank struct {
	Email         string `json:"email"`
	HighRiskCount int    `json:"high_risk_count"`
}

// RiskFinding is one narrative "top risk" insight.
type RiskFinding struct {
	Title             string `json:"title"`
	Description       string `json:"description"`
	SuggestedNextStep string `json:"suggested_next_step"`
}

type ValueSummary struct {
	EnrichedCount          int            `json:"enriched_count"`
	TotalMinutesSaved      int            `json:"total_minutes_saved"`
	TotalHoursSaved        float64        `json:"total_hours_saved"`
	ValueCategoryCounts    map[string]int `json:"value_category_counts"`
	AverageMinutesPerEvent float64        `json:"average_minutes_per_event"`
	Narrative              string         `json:"narrative"`
}
