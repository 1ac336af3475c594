package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfidenceAcceptsNumberOrString(t *testing.T) {
	cases := map[string]string{
		`{"confidenceScore": 85}`:      "85",
		`{"confidenceScore": "72"}`:    "72",
		`{"confidenceScore": "90%"}`:   "90",
		`{"confidenceScore": 87.5}`:    "87.5",
		`{"confidenceScore": null}`:    "",
		`{"summary": "no confidence"}`: "",
	}
	for raw, want := range cases {
		var a Analysis
		require.NoError(t, json.Unmarshal([]byte(raw), &a), raw)
		assert.Equal(t, want, a.ConfidenceScore.String(), raw)
	}

	for _, raw := range []string{`{"confidenceScore": "high"}`, `{"confidenceScore": true}`, `{"confidenceScore": {"v": 1}}`} {
		var a Analysis
		require.NoError(t, json.Unmarshal([]byte(raw), &a), raw)
		assert.False(t, a.ConfidenceScore.Valid, raw)
	}
}

func TestConfidenceMarshal(t *testing.T) {
	encoded, err := json.Marshal(Analysis{Summary: "s", ConfidenceScore: Confidence{Value: 85, Valid: true}})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"confidenceScore":85`)

	encoded, err = json.Marshal(Analysis{})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"confidenceScore":null`)
}

func TestMergeInputsSkipsCompletionFlagAndNulls(t *testing.T) {
	var sess Session
	sess.MergeInputs(map[string]any{"analysisType": "market", "timeframe": "1year"})
	sess.MergeInputs(map[string]any{"analysisType": nil, "timeframe": "5years", "isComplete": true})

	assert.Equal(t, map[string]any{"analysisType": "market", "timeframe": "5years"}, sess.Inputs)
}

func TestAppendCapsHistory(t *testing.T) {
	var sess Session
	for i := 0; i < 5; i++ {
		sess.Append(3, Message{Role: RoleUser, Content: string(rune('a' + i))})
	}
	require.Len(t, sess.History, 3)
	assert.Equal(t, "c", sess.History[0].Content)
	assert.Equal(t, "e", sess.History[2].Content)

	recent := sess.Recent(2)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "d"}, {Role: RoleUser, Content: "e"}}, recent)
}

func TestStageValid(t *testing.T) {
	assert.True(t, StageCollecting.Valid())
	assert.True(t, StageComplete.Valid())
	assert.False(t, Stage("done").Valid())
}
