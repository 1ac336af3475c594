package model

const (
	DefaultPerplexityBaseURL = "https://api.perplexity.ai"
	DefaultPerplexityModel   = "sonar"
)

// NewPerplexityProvider returns a chat-completions provider for Perplexity's
// web-grounded models. Perplexity rejects response_format=json_object, so JSON
// output is requested through the prompt only.
func NewPerplexityProvider(apiKey string, opts ...OpenAIOption) *OpenAIProvider {
	return newChatCompletionsProvider("perplexity", apiKey, DefaultPerplexityBaseURL, false, opts...)
}
