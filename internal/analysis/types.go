package analysis

import (
	"healthintel.local/gateway/internal/session"
)

const (
	ActionStart   = "start"
	ActionChat    = "chat"
	ActionProfile = "profile"
	ActionAnalyze = "analyze"
	ActionReset   = "reset"
)

// ValidAction reports whether action names a supported operation.
func ValidAction(action string) bool {
	switch action {
	case ActionStart, ActionChat, ActionProfile, ActionAnalyze, ActionReset:
		return true
	default:
		return false
	}
}

// Reply is the action-specific part of a response. Zero fields are omitted.
type Reply struct {
	Response        string            `json:"response,omitempty"`
	Message         string            `json:"message,omitempty"`
	Stage           session.Stage     `json:"stage,omitempty"`
	Analyzing       bool              `json:"analyzing,omitempty"`
	FormFields      []FormField       `json:"formFields,omitempty"`
	AnalysisResults *session.Analysis `json:"analysisResults,omitempty"`
	ProfileComplete *bool             `json:"profileComplete,omitempty"`
	Profile         *session.Profile  `json:"profile,omitempty"`
}

type FormField struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Options  []string `json:"options,omitempty"`
	Required bool     `json:"required"`
}

// AnalyzeRequest carries the inputs of a one-shot analysis.
type AnalyzeRequest struct {
	Profile          *session.Profile
	UploadedFiles    int
	SelectedArticles int
	Message          string
}

var analysisTypeOptions = []string{
	"Market Analysis",
	"Competitive Analysis",
	"Financial Analysis",
	"Geographic Analysis",
	"Service Gap Analysis",
	"Custom Analysis",
}

func startFormFields() []FormField {
	return []FormField{{
		ID:       "analysisType",
		Type:     "select",
		Label:    "Analysis Type",
		Options:  append([]string(nil), analysisTypeOptions...),
		Required: true,
	}}
}
