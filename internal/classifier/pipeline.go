package classifier

import (
	"github.com/V4T54L/shadow-ai-watch/internal/adapter/pii"
	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// Pipeline runs the independent classifiers over an event in place.
type Pipeline struct {
	pii *pii.Assessor
}

func NewPipeline(assessor *pii.Assessor) *Pipeline {
	return &Pipeline{pii: assessor}
}

// Apply fills provider and service when missing, then sets the PII, use-case
// and risk labels.
func (p *Pipeline) Apply(event *domain.AIUsageEvent) {
	if event.Provider == "" || event.Service == "" {
		event.Provider, event.Service = DetectProvider(event.URL)
	}
	event.PIIRisk, event.PIIReasons = p.pii.Assess(event)
	event.UseCase = InferUseCase(event)
	event.RiskLevel, event.RiskReasons = ClassifyRisk(event)
}
