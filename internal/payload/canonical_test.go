package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("hello"), `"hello"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative zero", Number("-0"), "0"},
		{"big int literal", Number("123456789012345678901234567890"), "123456789012345678901234567890"},
		{"float trailing zero", Number("2.50"), "2.5"},
		{"float integral", Number("1.0"), "1"},
		{"exponent small", Number("1e2"), "100"},
		{"exponent large", Number("1E21"), "1e+21"},
		{"tiny", Number("0.0000001"), "1e-7"},
		{"null", Null{}, "null"},
		{"bool", Bool(true), "true"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"nested", Object{"b": Array{Int(1), Null{}}, "a": Bool(false)}, `{"a":false,"b":[1,null]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html not escaped", "<a & b>", `"<a & b>"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"control chars", "a\nb\u0001", `"a\nb\u0001"`},
		{"quote and backslash", `say "hi" \o/`, `"say \"hi\" \\o/"`},
		{"nfc", "e\u0301", "\"\u00e9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before E000
	// in UTF-16 even though its UTF-8 bytes sort after.
	obj := Object{
		"\uE000": Int(1),
		"𐀀":      Int(2),
	}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"𐀀":2,"`+"\uE000"+`":1}`, string(out))
}

func TestMarshalCanonicalRejectsNonFinite(t *testing.T) {
	_, err := MarshalCanonical(Number("1e400"))
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	v, err := Decode([]byte(`{"messages":[{"text":"hello"}],"score":0.75,"n":null}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, Number("0.75"), obj["score"])
	assert.Equal(t, Null{}, obj["n"])

	msgs := obj["messages"].(Array)
	require.Len(t, msgs, 1)
	assert.Equal(t, String("hello"), msgs[0].(Object)["text"])
}

func TestDecode_TrailingData(t *testing.T) {
	_, err := Decode([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
}

func TestDecodeObject_RejectsNonObject(t *testing.T) {
	_, err := DecodeObject([]byte(`[1,2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "got array")
}

func TestRoundTripThroughAny(t *testing.T) {
	v, err := Decode([]byte(`{"a":[1,"x",true,null],"b":{"c":2.5}}`))
	require.NoError(t, err)

	back, err := FromAny(ToAny(v))
	require.NoError(t, err)

	c1, _ := MarshalCanonical(v)
	c2, _ := MarshalCanonical(back)
	assert.Equal(t, string(c1), string(c2))
}

func TestDigest(t *testing.T) {
	a := Object{"x": Int(1), "y": String("z")}
	b := Object{"y": String("z"), "x": Int(1)}

	da, err := Digest(DomainResult, a)
	require.NoError(t, err)
	db, err := Digest(DomainResult, b)
	require.NoError(t, err)
	assert.Equal(t, da, db, "key order must not affect the digest")
	assert.Len(t, da, 64)

	di, err := Digest(DomainInput, a)
	require.NoError(t, err)
	assert.NotEqual(t, da, di, "domains must separate digests")
}
