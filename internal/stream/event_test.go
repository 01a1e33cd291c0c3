package stream

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeKnownKinds(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  Event
	}{
		{"checkpoint", `{"type":"checkpoint","checkpoint_id":"abc123"}`, Checkpoint{ID: "abc123"}},
		{"content", `{"type":"content","content":"The "}`, Content{Text: "The "}},
		{"empty content", `{"type":"content","content":""}`, Content{Text: ""}},
		{"search start", `{"type":"search_start","query":"weather today"}`, SearchStart{Query: "weather today"}},
		{"search results array", `{"type":"search_results","urls":["u1","u2"]}`, SearchResults{URLs: []string{"u1", "u2"}}},
		{"search results string", `{"type":"search_results","urls":"[\"u1\",\"u2\"]"}`, SearchResults{URLs: []string{"u1", "u2"}}},
		{"search results empty", `{"type":"search_results","urls":[]}`, SearchResults{URLs: []string{}}},
		{"search error", `{"type":"search_error","error":"upstream 502"}`, SearchError{Message: "upstream 502"}},
		{"end", `{"type":"end"}`, End{}},
		{"extra fields", `{"type":"end","reason":"done"}`, End{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.want.Kind(), got.Kind())
		})
	}
}

func TestDecodeFailures(t *testing.T) {
	cases := []struct {
		name  string
		frame string
		want  error
	}{
		{"not json", `not valid json`, ErrMalformed},
		{"empty", `   `, ErrMalformed},
		{"missing type", `{"content":"x"}`, ErrMalformed},
		{"checkpoint without id", `{"type":"checkpoint"}`, ErrMalformed},
		{"content without text", `{"type":"content"}`, ErrMalformed},
		{"content wrong type", `{"type":"content","content":42}`, ErrMalformed},
		{"search start without query", `{"type":"search_start"}`, ErrMalformed},
		{"search error without text", `{"type":"search_error"}`, ErrMalformed},
		{"search results without urls", `{"type":"search_results"}`, ErrMalformed},
		{"urls string not json", `{"type":"search_results","urls":"['u1']"}`, ErrMalformedURLs},
		{"urls of numbers", `{"type":"search_results","urls":[1,2]}`, ErrMalformedURLs},
		{"unknown kind", `{"type":"heartbeat"}`, ErrUnknownKind},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode([]byte(tc.frame))
			require.Error(t, err)
			assert.Nil(t, ev)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}
}

func TestEncodeFeedsDecode(t *testing.T) {
	for _, ev := range []Event{
		Checkpoint{ID: "t-1"},
		Content{Text: "line one\nline two"},
		SearchStart{Query: "a/b"},
		SearchResults{URLs: []string{"https://x"}},
		SearchError{Message: "quota"},
		End{},
	} {
		frame, err := Encode(ev)
		require.NoError(t, err)
		got, err := Decode(frame)
		require.NoError(t, err, string(frame))
		assert.Equal(t, ev, got)
	}
}

func TestEncodeNilURLsAsEmptyList(t *testing.T) {
	frame, err := Encode(SearchResults{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"search_results","urls":[]}`, string(frame))
}
