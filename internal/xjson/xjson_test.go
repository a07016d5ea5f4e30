package xjson

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type promptResponse struct {
	PromptID   string                `json:"prompt_id"`
	Number     int                   `json:"number"`
	NodeErrors map[string]RawMessage `json:"node_errors,omitempty"`
}

func TestUnmarshal_RawMessagePreserved(t *testing.T) {
	var resp promptResponse
	err := Unmarshal([]byte(`{"prompt_id":"abc","number":3,"node_errors":{"5":{"type":"x"}}}`), &resp)
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.PromptID)
	assert.Equal(t, 3, resp.Number)
	assert.JSONEq(t, `{"type":"x"}`, string(resp.NodeErrors["5"]))
}

func TestDecoder(t *testing.T) {
	var resp promptResponse
	require.NoError(t, NewDecoder(strings.NewReader(`{"prompt_id":"p"}`)).Decode(&resp))
	assert.Equal(t, "p", resp.PromptID)

	out, err := Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"prompt_id":"p","number":0}`, string(out))
}
