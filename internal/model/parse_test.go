package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSONFencedMatchesBare(t *testing.T) {
	bare := `{"analysisType":"market","targetEntities":["hospitals","California"],"isComplete":true}`
	inputs := []string{
		bare,
		"```json\n" + bare + "\n```",
		"```\n" + bare + "\n```",
		"Here is the extraction:\n" + bare + "\nLet me know if you need more.",
	}

	var want map[string]any
	require.NoError(t, DecodeJSON(bare, &want))

	for _, input := range inputs {
		var got map[string]any
		require.NoError(t, DecodeJSON(input, &got), "input %q", input)
		assert.Equal(t, want, got)
	}
}

func TestExtractJSONTakesOutermostSpan(t *testing.T) {
	raw, err := ExtractJSON(`prefix {"a":{"b":1}} suffix`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":1}}`, raw)
}

func TestExtractJSONWithoutObject(t *testing.T) {
	_, err := ExtractJSON("I could not determine the requirements.")
	if !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}

	_, err = ExtractJSON("} backwards {")
	if !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject for reversed braces, got %v", err)
	}
}

func TestDecodeJSONInvalidObject(t *testing.T) {
	var out map[string]any
	err := DecodeJSON("```json\n{not json}\n```", &out)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNoJSONObject))
}
