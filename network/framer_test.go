package network

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramerSingleMessage(t *testing.T) {
	f := NewFramer(1 << 20)

	frames, err := f.Push([]byte(`{"kind":"report-spammer","user_id":"123"}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, `{"kind":"report-spammer","user_id":"123"}`, frames[0])
	assert.Equal(t, 0, f.Pending())
}

func TestFramerBackToBackMessages(t *testing.T) {
	f := NewFramer(1 << 20)

	frames, err := f.Push([]byte(`{"key1": "value1"}{"key2": "value2"}`))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"key1": "value1"}`, frames[0])
	assert.Equal(t, `{"key2": "value2"}`, frames[1])
}

func TestFramerChunkBoundaryIndependence(t *testing.T) {
	// The same byte stream must yield the same frames no matter how it
	// is sliced into reads.
	stream := `{"a": {"b": [1, 2, {"c": "}"}]}, "d": "\"{"}{"second": true}[1, 2, 3]`
	want := []string{
		`{"a": {"b": [1, 2, {"c": "}"}]}, "d": "\"{"}`,
		`{"second": true}`,
		`[1, 2, 3]`,
	}

	for chunkSize := 1; chunkSize <= len(stream); chunkSize++ {
		f := NewFramer(1 << 20)
		var got []string
		for i := 0; i < len(stream); i += chunkSize {
			end := i + chunkSize
			if end > len(stream) {
				end = len(stream)
			}
			frames, err := f.Push([]byte(stream[i:end]))
			require.NoError(t, err, "chunk size %d", chunkSize)
			got = append(got, frames...)
		}
		require.Equal(t, want, got, "chunk size %d", chunkSize)
		assert.Equal(t, 0, f.Pending(), "chunk size %d", chunkSize)
	}
}

func TestFramerBracesInsideStrings(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"closing brace in string", `{"note": "uses } inside"}`},
		{"opening brace in string", `{"note": "uses { inside"}`},
		{"escaped quote then brace", `{"note": "he said \"}\" loudly"}`},
		{"escaped backslash before quote", `{"path": "C:\\"}`},
		{"nested json as string", `{"payload": "{\"inner\": 1}"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFramer(1 << 20)
			frames, err := f.Push([]byte(tt.input))
			require.NoError(t, err)
			require.Len(t, frames, 1)
			assert.Equal(t, tt.input, frames[0])
		})
	}
}

func TestFramerIncompleteMessageHeldBack(t *testing.T) {
	f := NewFramer(1 << 20)

	frames, err := f.Push([]byte(`{"kind": "report-spam`))
	require.NoError(t, err)
	assert.Empty(t, frames)
	assert.Greater(t, f.Pending(), 0)

	frames, err = f.Push([]byte(`mer"}`))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, `{"kind": "report-spammer"}`, frames[0])
}

func TestFramerNoiseBetweenMessages(t *testing.T) {
	f := NewFramer(1 << 20)

	frames, err := f.Push([]byte("\n  {\"a\":1}\r\n{\"b\":2}  "))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"a":1}`, frames[0])
	assert.Equal(t, `{"b":2}`, frames[1])
}

func TestFramerOversizeFrame(t *testing.T) {
	f := NewFramer(64)

	// An unterminated message growing past the limit aborts the stream.
	_, err := f.Push([]byte(`{"blob": "` + strings.Repeat("x", 128)))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestFramerSmallMessagesUnderSmallLimit(t *testing.T) {
	// A small limit only rejects individual frames that exceed it; a
	// stream of small messages flows through indefinitely.
	f := NewFramer(64)

	for i := 0; i < 100; i++ {
		frames, err := f.Push([]byte(`{"n": 1}`))
		require.NoError(t, err)
		require.Len(t, frames, 1)
	}
}
