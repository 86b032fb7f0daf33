package classifier

import (
	"strings"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// DataExtractionThreshold is the bytes_sent at which chat and api calls are
// read as bulk document uploads.
const DataExtractionThreshold = 10000

// InferUseCase applies the ordered use-case rules; the first match wins.
func InferUseCase(event *domain.AIUsageEvent) domain.UseCase {
	bytesSent := event.BytesSentOrZero()

	switch {
	case event.Provider == domain.ProviderGitHubCopilot:
		return domain.UseCaseCodeAssistance
	case event.Service == domain.ServiceWebUI && isConversationalProvider(event.Provider):
		return domain.UseCaseContentGeneration
	case event.Service == domain.ServiceChat && bytesSent >= DataExtractionThreshold:
		return domain.UseCaseDataExtraction
	case event.Service == domain.ServiceChat:
		return domain.UseCaseAnalysisOrChat
	case event.Service == domain.ServiceAPI && bytesSent >= DataExtractionThreshold:
		return domain.UseCaseDataExtraction
	case event.Service == domain.ServiceEmbeddings:
		return domain.UseCaseDataExtraction
	}
	return domain.UseCaseUnknown
}

func isConversationalProvider(p domain.Provider) bool {
	return p == domain.ProviderOpenAI || p == domain.ProviderAnthropic || p == domain.ProviderGoogle
}

var useCaseDisplayNames = map[domain.UseCase]string{
	domain.UseCaseContentGeneration: "Content Generation",
	domain.UseCaseCodeAssistance:    "Code Assistance",
	domain.UseCaseDataExtraction:    "Data Extraction (Docs/Records)",
	domain.UseCaseAnalysisOrChat:    "Analysis / Q&A",
	domain.UseCaseUnknown:           "Unknown",
}

// UseCaseDisplayName returns the business-facing label of a use case.
func UseCaseDisplayName(uc domain.UseCase) string {
	if name, ok := useCaseDisplayNames[uc]; ok {
		return name
	}
	words := strings.Fields(strings.ReplaceAll(string(uc), "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
