package query

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexBool(t *testing.T) {
	tests := map[string]bool{
		`true`: true, `false`: false, `"true"`: true, `"Yes"`: true, `"false"`: false,
		`1`: true, `0`: false, `null`: false, `"maybe"`: false,
	}
	for raw, want := range tests {
		var b flexBool
		require.NoError(t, json.Unmarshal([]byte(raw), &b), raw)
		assert.Equal(t, want, bool(b), raw)
	}
}

func TestFlexInts(t *testing.T) {
	tests := []struct {
		raw  string
		want []int
	}{
		{`[1, 2]`, []int{1, 2}},
		{`["1", "2"]`, []int{1, 2}},
		{`["Q3", "FY2022"]`, []int{3, 2022}},
		{`"1, 3"`, []int{1, 3}},
		{`2`, []int{2}},
		{`[2.0, "none"]`, []int{2}},
		{`null`, nil},
		{`{"n": 1}`, nil},
	}
	for _, tt := range tests {
		var got flexInts
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &got), tt.raw)
		assert.Equal(t, tt.want, []int(got), tt.raw)
	}
}

func TestFlexStrings(t *testing.T) {
	var got flexStrings
	require.NoError(t, json.Unmarshal([]byte(`"Apple, Inc."`), &got))
	assert.Equal(t, []string{"Apple, Inc."}, []string(got))

	require.NoError(t, json.Unmarshal([]byte(`["AAPL", " ", 10]`), &got))
	assert.Equal(t, []string{"AAPL", "10"}, []string(got))
}

func TestFlexText(t *testing.T) {
	var s flexText
	require.NoError(t, json.Unmarshal([]byte(`"Revenue rose [1]."`), &s))
	assert.Equal(t, "Revenue rose [1].", string(s))

	require.NoError(t, json.Unmarshal([]byte(`42`), &s))
	assert.Equal(t, "42", string(s))

	require.NoError(t, json.Unmarshal([]byte(`null`), &s))
	assert.Empty(t, string(s))
}

func TestGeneratedAnswerKeepsDecodedFields(t *testing.T) {
	var a generatedAnswer
	require.NoError(t, json.Unmarshal([]byte(`{"answer":"The filings do not say.","citations":["1"],"insufficient":"true"}`), &a))
	assert.Equal(t, "The filings do not say.", string(a.Answer))
	assert.Equal(t, []int{1}, []int(a.Citations))
	assert.True(t, bool(a.Insufficient))
}
