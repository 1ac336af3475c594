package analysis

import (
	"fmt"
	"strings"

	"healthintel.local/gateway/internal/session"
)

const followUpMenu = `Would you like me to:
• Dive deeper into any specific finding
• Compare with different regions/timeframes
• Export this analysis as a report
• Perform additional analysis`

// FormatAnalysis renders an analysis as the markdown shown to the user.
// Empty lists drop their section; missing scalars render as placeholders.
func FormatAnalysis(a session.Analysis) string {
	var b strings.Builder
	b.WriteString("## ✅ Analysis Complete!\n\n")

	summary := strings.TrimSpace(a.Summary)
	if summary == "" {
		summary = "No summary was returned."
	}
	b.WriteString(summary)
	b.WriteString("\n\n")

	if items := nonEmpty(a.KeyFindings); len(items) > 0 {
		b.WriteString("### 📊 Key Findings\n\n")
		for i, finding := range items {
			fmt.Fprintf(&b, "%d. %s\n", i+1, finding)
		}
		b.WriteString("\n")
	}

	if items := nonEmpty(a.Insights); len(items) > 0 {
		b.WriteString("### 💡 Insights\n\n")
		for _, insight := range items {
			fmt.Fprintf(&b, "• %s\n", insight)
		}
		b.WriteString("\n")
	}

	if items := nonEmpty(a.Recommendations); len(items) > 0 {
		b.WriteString("### 🎯 Recommendations")
		if role := strings.TrimSpace(a.UserRole); role != "" {
			fmt.Fprintf(&b, " (Personalized for %s)", role)
		}
		b.WriteString("\n\n")
		for i, rec := range items {
			label, body := splitRecommendation(rec)
			fmt.Fprintf(&b, "%d. **%s**: %s\n", i+1, label, body)
		}
		b.WriteString("\n")
	}

	quality := strings.TrimSpace(a.DataQuality)
	if quality == "" {
		quality = "unknown"
	}
	confidence := "n/a"
	if a.ConfidenceScore.Valid {
		confidence = a.ConfidenceScore.String() + "%"
	}

	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "**Analysis Quality:** %s | **Confidence:** %s\n\n", quality, confidence)
	b.WriteString(followUpMenu)
	return b.String()
}

// splitRecommendation splits "Label: body" on the first colon. Text without
// a colon is used as both label and body.
func splitRecommendation(rec string) (string, string) {
	label, body, found := strings.Cut(rec, ":")
	label = strings.TrimSpace(label)
	body = strings.TrimSpace(body)
	if !found || label == "" || body == "" {
		return strings.TrimSpace(rec), strings.TrimSpace(rec)
	}
	return label, body
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
