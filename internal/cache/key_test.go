package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprint_Deterministic(t *testing.T) {
	content := []byte("\\section{Intro} body")
	a, err := Fingerprint(content, Params{"model": "prebuilt-layout", "pages": []int{1, 2}})
	require.NoError(t, err)
	b, err := Fingerprint(content, Params{"pages": []int{1, 2}, "model": "prebuilt-layout"})
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.True(t, a.Valid())
	assert.True(t, strings.HasPrefix(a.String(), keyPrefix))
}

func TestFingerprint_NestedParamsIgnoreInsertionOrder(t *testing.T) {
	first := Params{"outer": map[string]any{"b": 2, "a": 1}, "z": true}
	second := Params{"z": true, "outer": map[string]any{"a": 1, "b": 2}}
	assert.Equal(t, MustFingerprint([]byte("x"), first), MustFingerprint([]byte("x"), second))
}

func TestFingerprint_Distinguishes(t *testing.T) {
	base := MustFingerprint([]byte("content"), Params{"v": 1})
	assert.NotEqual(t, base, MustFingerprint([]byte("content2"), Params{"v": 1}))
	assert.NotEqual(t, base, MustFingerprint([]byte("content"), Params{"v": 2}))
	// Moving bytes between content and params must change the key.
	assert.NotEqual(t,
		MustFingerprint([]byte("ab"), Params{}),
		MustFingerprint([]byte("a"), Params{"b": ""}))
}

func TestFingerprint_NilParamsEqualsEmpty(t *testing.T) {
	assert.Equal(t, MustFingerprint([]byte("x"), nil), MustFingerprint([]byte("x"), Params{}))
}

func TestFingerprint_StableValue(t *testing.T) {
	// Persisted entries are looked up by these exact values.
	tests := []struct {
		content string
		params  Params
		want    Key
	}{
		{"abc", Params{"k": "v", "n": map[string]any{"b": 1, "a": 2}}, "sha256:8714191fa3e553f6e5d3ee47d0dce31cf207a6af063514986d2f56bdb2c11272"},
		{"x", nil, "sha256:42cabad5ac07787077a6983d78892db8226cc3e3cbf8751a90790ad8b22a08ee"},
	}
	for _, tt := range tests {
		k := MustFingerprint([]byte(tt.content), tt.params)
		assert.Equal(t, tt.want, k)
		assert.Equal(t, strings.TrimPrefix(string(tt.want), keyPrefix)[:12], k.Short())
	}
}

func TestFingerprint_UnencodableParams(t *testing.T) {
	_, err := Fingerprint([]byte("x"), Params{"f": func() {}})
	assert.Error(t, err)
}

func TestKey_Valid(t *testing.T) {
	assert.False(t, Key("").Valid())
	assert.False(t, Key("sha256:zz").Valid())
	assert.False(t, Key("md5:"+strings.Repeat("a", 64)).Valid())
	assert.True(t, Key(keyPrefix+strings.Repeat("a", 64)).Valid())
}
