// Package aggregate rolls a collection of classified events up into the
// summary consumed by the reporting layer.
package aggregate

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/V4T54L/shadow-ai-watch/internal/classifier"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

const (
	emptyProfile   = "No AI usage detected in the analyzed logs."
	emptyNarrative = "No value enrichment data available yet."

	widespreadMediumThreshold = 10
	maxTopRisks               = 3
)

// Options tune the aggregation. Zero values fall back to the defaults.
type Options struct {
	// AllowedProviders are sanctioned providers; every other provider counts
	// as shadow AI.
	AllowedProviders []string
	TopDepartments   int
	TopUsers         int
}

func (o Options) withDefaults() Options {
	if o.TopDepartments <= 0 {
		o.TopDepartments = 3
	}
	if o.TopUsers <= 0 {
		o.TopUsers = 5
	}
	return o
}

// Aggregate builds the summary for events. It never fails; an empty input
// yields the zero summary.
func Aggregate(events []domain.AIUsageEvent, opts Options) domain.Summary {
	opts = opts.withDefaults()
	summary := emptySummary()
	total := len(events)
	if total == 0 {
		return summary
	}

	allowed := make(map[string]struct{}, len(opts.AllowedProviders))
	for _, p := range opts.AllowedProviders {
		allowed[strings.ToLower(strings.TrimSpace(p))] = struct{}{}
	}

	var (
		users          = make(map[string]struct{})
		providers      = newCounter()
		departments    = newCounter()
		highRiskByDept = newCounter()
		piiByDept      = newCounter()
		useCases       = newCounter()
		highRiskByUC   = newCounter()
		perDay         = newCounter()
		highRiskUsers  = newCounter()
		categories     = newCounter()

		shadow, pii, enriched, minutes int
		unknownProvider, largeTransfer int
	)

	for i := range events {
		e := &events[i]
		email := e.Email()
		dept := e.DepartmentName()
		high := e.RiskLevel == domain.RiskHigh

		if email != "" {
			users[email] = struct{}{}
		}
		switch e.RiskLevel {
		case domain.RiskHigh:
			summary.RiskCounts.High++
		case domain.RiskMedium:
			summary.RiskCounts.Medium++
		default:
			summary.RiskCounts.Low++
		}
		providers.add(string(e.Provider))
		useCases.add(string(e.UseCase))
		perDay.add(e.Timestamp.UTC().Format("2006-01-02"))
		if dept != "" {
			departments.add(dept)
		}
		if high {
			highRiskByUC.add(string(e.UseCase))
			if dept != "" {
				highRiskByDept.add(dept)
			}
			if email != "" {
				highRiskUsers.add(email)
			}
		}
		if _, ok := allowed[string(e.Provider)]; !ok {
			shadow++
		}
		if e.PIIRisk {
			pii++
			if dept != "" {
				piiByDept.add(dept)
			}
		}
		if e.ValueEnriched {
			enriched++
			if e.EstimatedMinutesSaved != nil {
				minutes += *e.EstimatedMinutesSaved
			}
			if e.ValueCategory != nil {
				categories.add(string(*e.ValueCategory))
			}
		}
		if e.HasRiskReason(classifier.ReasonUnknownAIProvider) {
			unknownProvider++
		}
		if e.HasRiskReason(classifier.ReasonLargeDataTransfer) {
			largeTransfer++
		}

		ts := e.Timestamp.UTC()
		if summary.TimeRange.Start == nil || ts.Before(*summary.TimeRange.Start) {
			start := ts
			summary.TimeRange.Start = &start
		}
		if summary.TimeRange.End == nil || ts.After(*summary.TimeRange.End) {
			end := ts
			summary.TimeRange.End = &end
		}
	}

	hours := round1(float64(minutes) / 60)
	summary.KPIs = domain.KPIs{
		TotalEvents:              total,
		UniqueUsers:              len(users),
		ShadowAIEvents:           shadow,
		ShadowAIPercentage:       percent(shadow, total),
		HighRiskEvents:           summary.RiskCounts.High,
		HighRiskPercentage:       percent(summary.RiskCounts.High, total),
		PIIEventsCount:           pii,
		PIIEventsPercentage:      percent(pii, total),
		EnrichedEventsCount:      enriched,
		EnrichedEventsPercentage: percent(enriched, total),
		TotalMinutesSaved:        minutes,
		TotalHoursSaved:          hours,
	}

	summary.EventsByProvider = providers.asMap()
	summary.EventsByDepartment = departments.asMap()
	summary.HighRiskEventsByDept = highRiskByDept.asMap()
	summary.EventsPerDay = perDay.asMap()
	summary.PIIEventsByDepartment = piiByDept.asMap()
	summary.EventsByUseCase = useCases.asMap()
	summary.HighRiskEventsByUseCase = highRiskByUC.asMap()

	for _, kv := range departments.mostCommon(opts.TopDepartments) {
		summary.TopDepartments = append(summary.TopDepartments, domain.DepartmentRank{Name: kv.key, Count: kv.count})
	}
	for _, kv := range highRiskUsers.mostCommon(opts.TopUsers) {
		summary.TopHighRiskUsers = append(summary.TopHighRiskUsers, domain.UserRank{Email: kv.key, HighRiskCount: kv.count})
	}

	summary.TopRisks = topRisks(riskInputs{
		highRiskByDept:  highRiskByDept,
		departments:     departments.len(),
		mediumRisk:      summary.RiskCounts.Medium,
		unknownProvider: unknownProvider,
		largeTransfer:   largeTransfer,
	})
	summary.ShadowAIProfile = shadowProfile(departments, shadow, total)

	summary.ValueEnrichment = domain.ValueSummary{
		EnrichedCount:       enriched,
		TotalMinutesSaved:   minutes,
		TotalHoursSaved:     hours,
		ValueCategoryCounts: categories.asMap(),
		Narrative:           emptyNarrative,
	}
	if enriched > 0 {
		summary.ValueEnrichment.AverageMinutesPerEvent = round1(float64(minutes) / float64(enriched))
		summary.ValueEnrichment.Narrative = valueNarrative(categories, enriched, hours)
	}
	return summary
}

func emptySummary() domain.Summary {
	return domain.Summary{
		EventsByProvider:        map[string]int{},
		EventsByDepartment:      map[string]int{},
		HighRiskEventsByDept:    map[string]int{},
		EventsPerDay:            map[string]int{},
		PIIEventsByDepartment:   map[string]int{},
		EventsByUseCase:         map[string]int{},
		HighRiskEventsByUseCase: map[string]int{},
		TopDepartments:          []domain.DepartmentRank{},
		TopHighRiskUsers:        []domain.UserRank{},
		TopRisks:                []domain.RiskFinding{},
		ShadowAIProfile:         emptyProfile,
		ValueEnrichment: domain.ValueSummary{
			ValueCategoryCounts: map[string]int{},
			Narrative:           emptyNarrative,
		},
	}
}

type riskInputs struct {
	highRiskByDept  *counter
	departments     int
	mediumRisk      int
	unknownProvider int
	largeTransfer   int
}

// topRisks selects up to three findings in fixed priority order.
func topRisks(in riskInputs) []domain.RiskFinding {
	risks := []domain.RiskFinding{}

	if top := in.highRiskByDept.mostCommon(1); len(top) == 1 {
		dept, count := top[0].key, top[0].count
		risks = append(risks, domain.RiskFinding{
			Title:       fmt.Sprintf("%s team using public AI tools", dept),
			Description: fmt.Sprintf("Detected %d high-risk AI events from the %s department. "+
				"This department handles sensitive data that should not be processed by external AI systems.", count, dept),
			SuggestedNextStep: fmt.Sprintf("Immediately review %s team's AI usage policies and provide approved alternatives.", dept),
		})
	}
	if in.unknownProvider > 0 {
		risks = append(risks, domain.RiskFinding{
			Title:       "Unknown AI tools in use with no governance",
			Description: fmt.Sprintf("Found %d events using unidentified AI services. "+
				"These tools are outside IT visibility and may pose compliance risks.", in.unknownProvider),
			SuggestedNextStep: "Conduct an AI tool inventory and establish an approved vendor list.",
		})
	}
	if in.largeTransfer > 0 {
		risks = append(risks, domain.RiskFinding{
			Title:       "Significant data being sent to AI providers",
			Description: fmt.Sprintf("Detected %d events with large data transfers (>4KB). "+
				"This may indicate employees uploading documents or sensitive information.", in.largeTransfer),
			SuggestedNextStep: "Implement DLP controls and train employees on data handling policies.",
		})
	}
	if len(risks) < maxTopRisks && in.mediumRisk > widespreadMediumThreshold {
		risks = append(risks, domain.RiskFinding{
			Title:       "Widespread shadow AI adoption across organization",
			Description: fmt.Sprintf("AI usage detected across %d departments with %d medium-risk events. "+
				"This indicates a strong demand for AI capabilities.", in.departments, in.mediumRisk),
			SuggestedNextStep: "Launch an AI enablement program with sanctioned tools and governance.",
		})
	}
	if len(risks) < maxTopRisks {
		risks = append(risks, domain.RiskFinding{
			Title:             "Limited visibility into AI tool usage",
			Description:       "Current monitoring only captures network-level data. Actual AI usage may be higher.",
			SuggestedNextStep: "Deploy comprehensive AI usage monitoring across endpoints and SaaS apps.",
		})
	}

	if len(risks) > maxTopRisks {
		risks = risks[:maxTopRisks]
	}
	return risks
}

func shadowProfile(departments *counter, shadow, total int) string {
	shadowPct := formatPercent(percent(shadow, total))
	if departments.len() == 0 {
		return fmt.Sprintf("Detected %d AI events. About %s%% involve unsanctioned tools.", total, shadowPct)
	}

	var parts []string
	for _, kv := range departments.mostCommon(2) {
		share := math.Round(float64(kv.count) / float64(total) * 100)
		parts = append(parts, fmt.Sprintf("%s (%d%%)", kv.key, int(share)))
	}
	return fmt.Sprintf("Most AI usage is in %s. About %s%% of all AI events go to unsanctioned or unknown AI tools.",
		strings.Join(parts, " and "), shadowPct)
}

func valueNarrative(categories *counter, enriched int, hours float64) string {
	var top []string
	for _, kv := range categories.mostCommon(2) {
		top = append(top, strings.ToLower(strings.ReplaceAll(kv.key, "CostReduction", "cost reduction")))
	}
	return fmt.Sprintf("Most value today comes from %s-oriented use cases across %d enriched events, saving an estimated %s hours.",
		strings.Join(top, " and "), enriched, strconv.FormatFloat(hours, 'f', 1, 64))
}

// percent returns part/total as a percentage rounded to one decimal.
func percent(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(part) / float64(total) * 100)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
