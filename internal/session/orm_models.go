package session

import (
	"encoding/json"
	"fmt"
	"time"
)

type sessionRow struct {
	ID              string    `gorm:"primaryKey;size:191"`
	Stage           string    `gorm:"size:64;not null"`
	InputsJSON      string    `gorm:"type:text;not null"`
	ProfileJSON     string    `gorm:"type:text"`
	HistoryJSON     string    `gorm:"type:text;not null"`
	ResultJSON      string    `gorm:"type:text"`
	ResultDelivered bool      `gorm:"not null;default:false"`
	AnalysisError   string    `gorm:"type:text"`
	Epoch           string    `gorm:"size:64;not null"`
	Revision        int64     `gorm:"not null;default:0"`
	CreatedAt       time.Time `gorm:"not null"`
	UpdatedAt       time.Time `gorm:"not null;index"`
}

func (sessionRow) TableName() string {
	return "analysis_sessions"
}

func (r sessionRow) toRecord() (Session, error) {
	sess := Session{
		ID:              r.ID,
		Stage:           Stage(r.Stage),
		ResultDelivered: r.ResultDelivered,
		AnalysisError:   r.AnalysisError,
		Epoch:           r.Epoch,
		Revision:        r.Revision,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
	if err := unmarshalColumn(r.InputsJSON, &sess.Inputs); err != nil {
		return Session{}, fmt.Errorf("decode inputs: %w", err)
	}
	if sess.Inputs == nil {
		sess.Inputs = map[string]any{}
	}
	if err := unmarshalColumn(r.HistoryJSON, &sess.History); err != nil {
		return Session{}, fmt.Errorf("decode history: %w", err)
	}
	if sess.History == nil {
		sess.History = []Message{}
	}
	if r.ProfileJSON != "" {
		sess.Profile = &Profile{}
		if err := unmarshalColumn(r.ProfileJSON, sess.Profile); err != nil {
			return Session{}, fmt.Errorf("decode profile: %w", err)
		}
	}
	if r.ResultJSON != "" {
		sess.Result = &Analysis{}
		if err := unmarshalColumn(r.ResultJSON, sess.Result); err != nil {
			return Session{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return sess, nil
}

func sessionRowFromRecord(sess Session) (sessionRow, error) {
	row := sessionRow{
		ID:              sess.ID,
		Stage:           string(sess.Stage),
		ResultDelivered: sess.ResultDelivered,
		AnalysisError:   sess.AnalysisError,
		Epoch:           sess.Epoch,
		Revision:        sess.Revision,
		CreatedAt:       sess.CreatedAt,
		UpdatedAt:       sess.UpdatedAt,
	}

	var err error
	if row.InputsJSON, err = marshalColumn(sess.Inputs); err != nil {
		return sessionRow{}, fmt.Errorf("encode inputs: %w", err)
	}
	if row.HistoryJSON, err = marshalColumn(sess.History); err != nil {
		return sessionRow{}, fmt.Errorf("encode history: %w", err)
	}
	if sess.Profile != nil {
		if row.ProfileJSON, err = marshalColumn(sess.Profile); err != nil {
			return sessionRow{}, fmt.Errorf("encode profile: %w", err)
		}
	}
	if sess.Result != nil {
		if row.ResultJSON, err = marshalColumn(sess.Result); err != nil {
			return sessionRow{}, fmt.Errorf("encode result: %w", err)
		}
	}
	return row, nil
}

// columns lists every mutable column so zero values are written too.
func (r sessionRow) columns() map[string]any {
	return map[string]any{
		"stage":            r.Stage,
		"inputs_json":      r.InputsJSON,
		"profile_json":     r.ProfileJSON,
		"history_json":     r.HistoryJSON,
		"result_json":      r.ResultJSON,
		"result_delivered": r.ResultDelivered,
		"analysis_error":   r.AnalysisError,
		"revision":         r.Revision,
		"updated_at":       r.UpdatedAt,
	}
}

func marshalColumn(v any) (string, error) {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

func unmarshalColumn(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}
