package search

import "fmt"

type modeSetting struct {
	maxTokens   int
	temperature float64
	prompt      func(query string, c Context) string
}

var modeSettings = map[Mode]modeSetting{
	ModeSearch:          {maxTokens: 500, temperature: 0.3, prompt: searchPrompt},
	ModeQuestion:        {maxTokens: 800, temperature: 0.3, prompt: questionPrompt},
	ModeAutocomplete:    {maxTokens: 300, temperature: 0.7, prompt: autocompletePrompt},
	ModeInsights:        {maxTokens: 600, temperature: 0.3, prompt: insightsPrompt},
	ModeRecommendations: {maxTokens: 700, temperature: 0.3, prompt: recommendationsPrompt},
}

func searchPrompt(_ string, c Context) string {
	return fmt.Sprintf(`You are a healthcare facility search assistant. Extract search intent from natural language queries and return structured filters.

Context: User is viewing %s in %s category.
Current filters: %s

Analyze the query and return a JSON object with:
{
  "extractedFilters": {
    "state": "string or null",
    "city": "string or null",
    "hasPhone": boolean,
    "hasFax": boolean,
    "zipcode": "string or null"
  },
  "answer": "Brief explanation of what you understood (1-2 sentences)",
  "appliedFilters": ["list of filter names you applied"],
  "suggestions": ["3 related follow-up queries"]
}

Be precise and only extract filters that are clearly mentioned. Don't mention AI or technology names.`,
		orDefault(c.FacilityType, "facilities"), orDefault(c.Category, "healthcare"), filtersJSON(c))
}

func questionPrompt(_ string, c Context) string {
	return fmt.Sprintf(`You are a healthcare data expert answering questions about facilities.

Context: %s - %d results currently showing.
Filters applied: %s

Answer the user's question concisely and factually. Return JSON:
{
  "answer": "Your detailed answer (2-4 sentences)",
  "keyPoints": ["3-4 bullet points summarizing key information"],
  "relatedQuestions": ["3 related questions users might ask"]
}

Base answers on healthcare industry knowledge. Be helpful and specific.`,
		orDefault(c.FacilityType, "Facilities"), c.CurrentResults, filtersJSON(c))
}

func autocompletePrompt(query string, c Context) string {
	return fmt.Sprintf(`You are a search suggestion generator for healthcare facility searches.

Context: %s in %s
User is typing: "%s"

Return JSON with predicted search completions:
{
  "suggestions": [
    "5-7 relevant search query completions",
    "Mix of: specific locations, facility features, common searches",
    "Order by relevance"
  ],
  "trending": ["2-3 popular searches in this category"]
}

Make suggestions natural and useful. Don't repeat the input exactly.`,
		orDefault(c.FacilityType, "facilities"), orDefault(c.Category, "healthcare"), query)
}

func insightsPrompt(_ string, c Context) string {
	return fmt.Sprintf(`You are a healthcare data analyst providing insights about facility search results.

Context: %d %s found
Category: %s
Filters: %s

Provide data insights in JSON format:
{
  "mainInsight": "Key observation about the results (1 sentence)",
  "statistics": [
    "2-3 interesting statistics or patterns",
    "Focus on: distribution, concentration, common features"
  ],
  "recommendations": [
    "2-3 actionable suggestions based on the data",
    "Help users refine their search"
  ],
  "trends": "Brief note about trends in this category (1 sentence)"
}

Be analytical and helpful. Use healthcare industry knowledge.`,
		c.CurrentResults, orDefault(c.FacilityType, "facilities"), orDefault(c.Category, "healthcare"), filtersJSON(c))
}

func recommendationsPrompt(_ string, c Context) string {
	history := "[]"
	if len(c.UserSearchHistory) > 0 {
		history = mustJSON(c.UserSearchHistory, "[]")
	}
	state, _ := c.CurrentFilters["state"].(string)
	return fmt.Sprintf(`You are a recommendation engine for healthcare facilities.

Context: User searched for %s
Search history: %s
Current location: %s

Generate recommendations in JSON:
{
  "similarFacilities": [
    "3-4 related facility types users might be interested in",
    "Explain why (brief reason for each)"
  ],
  "nearbyAreas": [
    "2-3 nearby cities/states worth exploring",
    "Brief reason for each"
  ],
  "relatedSearches": [
    "3-4 searches other users performed",
    "Make them relevant to current context"
  ],
  "tip": "One helpful tip for finding the right facility"
}

Be personalized and contextual. Focus on user needs.`,
		orDefault(c.FacilityType, "facilities"), history, orDefault(state, "not specified"))
}

// fallbackResponse is the canned answer used when the provider is
// unavailable or its reply cannot be parsed.
func fallbackResponse(mode Mode, c Context) map[string]any {
	facility := orDefault(c.FacilityType, "facilities")
	switch mode {
	case ModeSearch:
		return map[string]any{
			"extractedFilters": map[string]any{},
			"answer":           "I'll help you search for facilities. Try using the standard filters below.",
			"appliedFilters":   []string{},
			"suggestions": []string{
				fmt.Sprintf("Find %s with contact information", facility),
				fmt.Sprintf("Show %s by state", facility),
				"Filter by specific cities",
			},
		}
	case ModeQuestion:
		return map[string]any{
			"answer": "I'm having trouble processing your question right now. You can use the filters to narrow down results or export the data for detailed analysis.",
			"keyPoints": []string{
				"Use the state and city filters to narrow results",
				"Export data to CSV for offline analysis",
				"Filter by phone availability for contact information",
			},
			"relatedQuestions": []string{
				"How do I filter by location?",
				"Can I export this data?",
				"What information is available for each facility?",
			},
		}
	case ModeAutocomplete:
		return map[string]any{
			"suggestions": []string{
				facility + " in California",
				facility + " with phone numbers",
				"Top rated " + facility,
				facility + " by city",
			},
			"trending": []string{
				"Search by state",
				"Filter by contact info",
			},
		}
	case ModeInsights:
		return map[string]any{
			"mainInsight": fmt.Sprintf("Currently showing %d %s", c.CurrentResults, facility),
			"statistics": []string{
				"Use filters to refine your search",
				"Export data for detailed analysis",
				"Bookmark facilities for later reference",
			},
			"recommendations": []string{
				"Try filtering by state or city",
				"Add phone filter to find contactable facilities",
			},
			"trends": "Healthcare facilities are distributed across all US states",
		}
	case ModeRecommendations:
		return map[string]any{
			"similarFacilities": []string{
				"Try exploring related facility categories",
				"Check different regions for more options",
			},
			"nearbyAreas": []string{
				"Expand search to neighboring states",
				"Consider metropolitan areas for more results",
			},
			"relatedSearches": []string{
				"Filter by availability",
				"Search by specialty",
				"Find facilities with specific services",
			},
			"tip": "Use multiple filters together to find exactly what you need",
		}
	default:
		return map[string]any{}
	}
}
