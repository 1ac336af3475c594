package session

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type Stage string

const (
	StageCollecting Stage = "collecting_requirements"
	StageAnalyzing  Stage = "analyzing"
	StageComplete   Stage = "complete"
)

func (s Stage) Valid() bool {
	return s.rank() > 0
}

func (s Stage) rank() int {
	switch s {
	case StageCollecting:
		return 1
	case StageAnalyzing:
		return 2
	case StageComplete:
		return 3
	default:
		return 0
	}
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Profile struct {
	Role     string `json:"role,omitempty"`
	Industry string `json:"industry,omitempty"`
	Goals    string `json:"goals,omitempty"`
	Region   string `json:"region,omitempty"`
}

type Analysis struct {
	Summary         string     `json:"summary"`
	KeyFindings     []string   `json:"keyFindings"`
	Insights        []string   `json:"insights"`
	Recommendations []string   `json:"recommendations"`
	UserRole        string     `json:"userRole,omitempty"`
	DataQuality     string     `json:"dataQuality,omitempty"`
	ConfidenceScore Confidence `json:"confidenceScore"`
	Timestamp       string     `json:"timestamp,omitempty"`
	Sources         []string   `json:"sources,omitempty"`
}

// Confidence is a percentage that models return either as a number or as a
// numeric string. Anything else decodes as not valid.
type Confidence struct {
	Value float64
	Valid bool
}

func (c Confidence) String() string {
	if !c.Valid {
		return ""
	}
	return strconv.FormatFloat(c.Value, 'f', -1, 64)
}

func (c Confidence) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(c.Value)
}

func (c *Confidence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*c = Confidence{}
		return nil
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = Confidence{}
	switch v := raw.(type) {
	case float64:
		*c = Confidence{Value: v, Valid: true}
	case string:
		trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%"))
		if parsed, err := strconv.ParseFloat(trimmed, 64); err == nil {
			*c = Confidence{Value: parsed, Valid: true}
		}
	}
	return nil
}

type Session struct {
	ID              string         `json:"sessionId"`
	Stage           Stage          `json:"stage"`
	Inputs          map[string]any `json:"userInputs"`
	Profile         *Profile       `json:"profile,omitempty"`
	History         []Message      `json:"conversationHistory"`
	Result          *Analysis      `json:"analysisResults,omitempty"`
	ResultDelivered bool           `json:"resultDelivered"`
	AnalysisError   string         `json:"analysisError,omitempty"`
	Epoch           string         `json:"epoch"`
	Revision        int64          `json:"revision"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Append adds messages to the transcript, keeping at most limit of the most
// recent ones. A non-positive limit keeps everything.
func (s *Session) Append(limit int, msgs ...Message) {
	s.History = append(s.History, msgs...)
	if limit > 0 && len(s.History) > limit {
		trimmed := make([]Message, limit)
		copy(trimmed, s.History[len(s.History)-limit:])
		s.History = trimmed
	}
}

// MergeInputs copies extracted fields into Inputs. Nil values never overwrite
// earlier values and the isComplete flag is not stored.
func (s *Session) MergeInputs(fields map[string]any) {
	if s.Inputs == nil {
		s.Inputs = make(map[string]any, len(fields))
	}
	for key, value := range fields {
		if key == "isComplete" || value == nil {
			continue
		}
		s.Inputs[key] = value
	}
}

// Recent returns up to n of the latest transcript messages.
func (s Session) Recent(n int) []Message {
	if n <= 0 || len(s.History) <= n {
		return append([]Message(nil), s.History...)
	}
	return append([]Message(nil), s.History[len(s.History)-n:]...)
}

func (s Session) Clone() Session {
	out := s
	if s.Inputs != nil {
		out.Inputs = cloneValue(s.Inputs).(map[string]any)
	}
	if s.Profile != nil {
		profile := *s.Profile
		out.Profile = &profile
	}
	if s.History != nil {
		out.History = append([]Message(nil), s.History...)
	}
	if s.Result != nil {
		result := s.Result.Clone()
		out.Result = &result
	}
	return out
}

func (a Analysis) Clone() Analysis {
	out := a
	out.KeyFindings = cloneStrings(a.KeyFindings)
	out.Insights = cloneStrings(a.Insights)
	out.Recommendations = cloneStrings(a.Recommendations)
	out.Sources = cloneStrings(a.Sources)
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func cloneValue(v any) any {
	switch typed := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, value := range typed {
			out[key] = cloneValue(value)
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, value := range typed {
			out[i] = cloneValue(value)
		}
		return out
	case []string:
		return cloneStrings(typed)
	default:
		return v
	}
}
