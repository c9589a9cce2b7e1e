package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialize_PicksFormat(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		format Format
		bytes  string
	}{
		{"bytes", []byte{0x00, 0xff}, FormatBuffer, "\x00\xff"},
		{"text", "héllo", FormatText, "héllo"},
		{"record", map[string]any{"a": 1}, FormatJSON, `{"a":1}`},
		{"number", 42, FormatJSON, "42"},
		{"nil", nil, FormatJSON, "null"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, f, err := Serialize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.format, f)
			assert.Equal(t, tt.bytes, string(b))
		})
	}
}

func TestSerialize_UnsupportedValue(t *testing.T) {
	_, _, err := Serialize(make(chan int))
	assert.Error(t, err)
}

func TestRoundTrip(t *testing.T) {
	record := map[string]any{
		"type":           "conversation",
		"userMessage":    "hi",
		"jarvisResponse": "hello",
		"tags":           []any{"a", "b"},
		"nested":         map[string]any{"n": float64(3)},
	}

	for _, v := range []any{[]byte("raw"), "plain text", record} {
		b, f, err := Serialize(v)
		require.NoError(t, err)

		got, ok := Deserialize(b, f)
		require.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestDeserialize_CorruptJSON(t *testing.T) {
	v, ok := Deserialize([]byte("{not json"), FormatJSON)
	assert.False(t, ok)
	assert.Nil(t, v)
}

func TestDeserialize_UnknownFormatFallsBackToJSON(t *testing.T) {
	v, ok := Deserialize([]byte(`"s"`), Format("legacy"))
	require.True(t, ok)
	assert.Equal(t, "s", v)
}

func TestDeserialize_BufferIsCopied(t *testing.T) {
	src := []byte("abc")
	v, ok := Deserialize(src, FormatBuffer)
	require.True(t, ok)

	src[0] = 'z'
	assert.Equal(t, []byte("abc"), v)
}

func TestClone_IsDeep(t *testing.T) {
	orig := map[string]any{
		"list": []any{map[string]any{"k": "v"}},
		"buf":  []byte("x"),
	}

	c := Clone(orig).(map[string]any)
	c["list"].([]any)[0].(map[string]any)["k"] = "changed"
	c["buf"].([]byte)[0] = 'y'

	assert.Equal(t, "v", orig["list"].([]any)[0].(map[string]any)["k"])
	assert.Equal(t, []byte("x"), orig["buf"])
}
