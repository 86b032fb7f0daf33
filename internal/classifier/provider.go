// Package classifier holds the deterministic, total classification rules that
// label an AI usage event from its URL, byte counts and department.
package classifier

import (
	"net/url"
	"strings"

	"github.com/V4T54L/shadow-ai-watch/internal/domain"
)

// aiKeywords gate which proxy rows are kept when the provider is not recognised.
var aiKeywords = []string{"ai", "gpt", "llm", "chat", "copilot", "assistant", "gemini", "claude", "openai", "anthropic"}

// DetectProvider maps a URL to a known provider and service. Unrecognised or
// unparseable URLs yield (unknown, unknown).
func DetectProvider(rawURL string) (domain.Provider, domain.Service) {
	host, path := hostAndPath(rawURL)

	switch {
	case strings.Contains(host, "openai.com"):
		switch {
		case strings.Contains(host, "api.openai.com"):
			if strings.Contains(path, "/v1/chat") || strings.Contains(path, "/chat/completions") {
				return domain.ProviderOpenAI, domain.ServiceChat
			}
			if strings.Contains(path, "/v1/embeddings") {
				return domain.ProviderOpenAI, domain.ServiceEmbeddings
			}
			return domain.ProviderOpenAI, domain.ServiceAPI
		case strings.Contains(host, "chat.openai.com"):
			return domain.ProviderOpenAI, domain.ServiceWebUI
		}
		return domain.ProviderOpenAI, domain.ServiceUnknown

	case strings.Contains(host, "anthropic.com"):
		switch {
		case strings.Contains(host, "api.anthropic.com"):
			if strings.Contains(path, "/v1/messages") {
				return domain.ProviderAnthropic, domain.ServiceChat
			}
			return domain.ProviderAnthropic, domain.ServiceAPI
		case strings.Contains(host, "console.anthropic.com"):
			return domain.ProviderAnthropic, domain.ServiceWebUI
		}
		return domain.ProviderAnthropic, domain.ServiceUnknown

	case strings.Contains(host, "claude.ai"):
		return domain.ProviderAnthropic, domain.ServiceWebUI

	case strings.Contains(host, "generativelanguage.googleapis.com"), strings.Contains(host, "gemini"):
		if strings.Contains(path, "/v1/models") || strings.Contains(path, "/generatecontent") {
			return domain.ProviderGoogle, domain.ServiceChat
		}
		return domain.ProviderGoogle, domain.ServiceAPI

	case strings.Contains(host, "githubcopilot.com"), strings.Contains(host, "copilot"):
		return domain.ProviderGitHubCopilot, domain.ServiceCodeAssist

	case strings.Contains(host, "perplexity.ai"):
		return domain.ProviderPerplexity, domain.ServiceWebUI
	}

	return domain.ProviderUnknown, domain.ServiceUnknown
}

// IsAIRelated reports whether a URL belongs to a known provider or contains
// any AI keyword (case-insensitive substring match).
func IsAIRelated(rawURL string) bool {
	if provider, _ := DetectProvider(rawURL); provider != domain.ProviderUnknown {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, kw := range aiKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// hostAndPath returns the lowercased hostname and path of rawURL, or empty
// strings when it cannot be parsed.
func hostAndPath(rawURL string) (string, string) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", ""
	}
	return strings.ToLower(u.Hostname()), strings.ToLower(u.Path)
}
