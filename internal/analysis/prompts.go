package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"healthintel.local/gateway/internal/session"
)

const (
	facilityCount = "658,859"

	startMessage = `I'll help you perform a comprehensive analysis of healthcare data! Let me gather some information first.

**What type of analysis would you like to perform?**

• **Market Analysis** - Analyze market trends, facility distribution, growth patterns
• **Competitive Analysis** - Compare facilities, identify market leaders
• **Financial Analysis** - Revenue estimates, financial health indicators
• **Geographic Analysis** - Regional distribution, market penetration
• **Service Gap Analysis** - Identify underserved areas and opportunities
• **Custom Analysis** - Tell me what you need

Please describe the type of analysis you want, or choose from the options above.`

	inProgressMessage     = "Analysis is still in progress... Please wait a moment."
	analysisFailedMessage = "I encountered an error during analysis. Please try again."
	followUpFallback      = "Could you provide more details?"
	profileFallback       = "Could you tell me more about your role and goals?"
	answerFallback        = "I couldn't answer that right now. Please try again in a moment."
	groundingFallback     = "Using general healthcare industry knowledge"
	analysisRequest       = "Generate personalized analysis now."
)

var analysisSources = []string{
	"Database (658K+ facilities)",
	"Real-time web data",
	"GPT-4 analysis",
}

func requirementsExtractionPrompt(recent []session.Message) string {
	return fmt.Sprintf(`Extract analysis requirements from user message.

Conversation history:
%s

User wants to analyze healthcare data. Extract:
1. Analysis type (market/competitive/financial/geographic/service_gap/custom)
2. Target entities (facility types, specific facilities, regions)
3. Timeframe (current/6months/1year/5years)
4. Specific questions they want answered
5. Data points they're interested in
6. Whether comparison is needed

Return JSON:
{
  "analysisType": "market",
  "targetEntities": ["hospitals", "California"],
  "timeframe": "1year",
  "specificQuestions": ["growth rate", "market share"],
  "dataPoints": ["bed count", "revenue"],
  "comparisonNeeded": true,
  "isComplete": false
}

Set "isComplete": true only when you have enough information to perform analysis.`, transcript(recent))
}

func requirementsFollowUpPrompt(inputs map[string]any) string {
	return fmt.Sprintf(`Based on conversation, ask 1-2 specific follow-up questions to gather missing information for healthcare data analysis.

Current info: %s

Be conversational and helpful. Ask about missing critical details.`, indentJSON(inputs))
}

func confirmationMessage(inputs map[string]any) string {
	return fmt.Sprintf(`Perfect! I'll now perform a comprehensive analysis with:

• **Analysis Type**: %s
• **Target**: %s
• **Timeframe**: %s
• **Focus Areas**: %s

This will take a few moments as I:
1. Query the database (658K+ facilities)
2. Fetch real-time market data via web search
3. Apply ML/statistical models
4. Generate insights and recommendations

**Starting analysis...**`,
		inputText(inputs["analysisType"]),
		inputText(inputs["targetEntities"]),
		inputText(inputs["timeframe"]),
		inputText(inputs["specificQuestions"]),
	)
}

func profileExtractionPrompt(history []session.Message, userMessage string) string {
	return fmt.Sprintf(`Extract user profile information from conversation.

Conversation:
%s

User: %s

Extract:
- role (e.g., Sales Executive, Market Analyst, CEO)
- industry (e.g., Healthcare, Pharma, Medical Devices)
- goals (e.g., lead generation, market research, competitive intelligence)
- region (e.g., California, West Coast, National)

Return JSON:
{
  "role": "...",
  "industry": "...",
  "goals": "...",
  "region": "...",
  "profileComplete": true/false
}

Set profileComplete=true if you have enough info to provide personalized analysis.`, transcript(history), userMessage)
}

func profileFollowUpPrompt(userMessage string) string {
	return fmt.Sprintf(`User provided: "%s". We need more info about their role, industry, goals, or region for healthcare analysis. Ask 1 conversational follow-up question.`, userMessage)
}

func groundingQuery(analysisType string) string {
	if strings.TrimSpace(analysisType) == "" {
		analysisType = "market"
	}
	return fmt.Sprintf("Healthcare %s analysis. Include trends, statistics, growth rates, competitive landscape.", analysisType)
}

// requestContext describes a one-shot analysis request.
func requestContext(req AnalyzeRequest) string {
	profile := req.Profile
	if profile == nil {
		profile = &session.Profile{}
	}
	return fmt.Sprintf(`
**User Profile:**
- Role: %s
- Industry: %s
- Goals: %s
- Region: %s

**Data Sources:**
- Database: %s healthcare facilities
- Uploaded Files: %d files
- Saved Articles: %d articles

**User Request:** %s
`,
		orDefault(profile.Role, "Not specified"),
		orDefault(profile.Industry, "Healthcare"),
		orDefault(profile.Goals, "Market analysis"),
		orDefault(profile.Region, "National"),
		facilityCount,
		req.UploadedFiles,
		req.SelectedArticles,
		req.Message,
	)
}

// sessionContext describes the requirements gathered during a conversation.
func sessionContext(inputs map[string]any, profile *session.Profile) string {
	var b strings.Builder
	if profile != nil {
		fmt.Fprintf(&b, `
**User Profile:**
- Role: %s
- Industry: %s
- Goals: %s
- Region: %s
`,
			orDefault(profile.Role, "Not specified"),
			orDefault(profile.Industry, "Healthcare"),
			orDefault(profile.Goals, "Market analysis"),
			orDefault(profile.Region, "National"),
		)
	}
	fmt.Fprintf(&b, `
**Collected Requirements:**
- Analysis Type: %s
- Target Entities: %s
- Timeframe: %s
- Specific Questions: %s
- Data Points: %s
- Comparison Needed: %s
`,
		inputText(inputs["analysisType"]),
		inputText(inputs["targetEntities"]),
		inputText(inputs["timeframe"]),
		inputText(inputs["specificQuestions"]),
		inputText(inputs["dataPoints"]),
		inputText(inputs["comparisonNeeded"]),
	)
	return b.String()
}

func analysisPrompt(details, webData, role string) string {
	if strings.TrimSpace(webData) == "" {
		webData = groundingFallback
	}
	return fmt.Sprintf(`You are a healthcare data analyst generating a personalized analysis.

%s

**Real-time Market Data:**
%s

**Database Context:**
- %s verified healthcare facilities
- Covers all facility types and US states

Generate PERSONALIZED analysis for this %s:

1. **Summary** (2-3 sentences tailored to their role)
2. **Key Findings** (5-7 specific findings relevant to their goals)
3. **Insights** (4-5 actionable insights for their industry)
4. **Recommendations** (5-6 strategic recommendations for their role and goals)

Return JSON:
{
  "summary": "...",
  "keyFindings": ["...", "..."],
  "insights": ["...", "..."],
  "recommendations": ["...", "..."],
  "userRole": "%s",
  "dataQuality": "high/medium/low",
  "confidenceScore": 85
}`, details, webData, facilityCount, orDefault(role, "professional"), orDefault(role, "Professional"))
}

func followUpAnswerPrompt(result *session.Analysis) string {
	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		encoded = []byte("{}")
	}
	return fmt.Sprintf(`You are a healthcare data analyst answering follow-up questions about an analysis you already delivered.

Analysis:
%s

Answer the user's latest question using this analysis. Be specific and concise. If the analysis does not cover the question, say so and suggest which additional analysis would answer it.`, encoded)
}

func transcript(msgs []session.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}

func indentJSON(v any) string {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// inputText renders an extracted value for display.
func inputText(v any) string {
	switch typed := v.(type) {
	case nil:
		return "Not specified"
	case string:
		return orDefault(typed, "Not specified")
	case bool:
		if typed {
			return "Yes"
		}
		return "No"
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return orDefault(strings.Join(parts, ", "), "Not specified")
	case []string:
		return orDefault(strings.Join(typed, ", "), "Not specified")
	default:
		return fmt.Sprint(typed)
	}
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
