// Package cache stores expensive external results keyed by a fingerprint of their inputs.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

const keyPrefix = "sha256:"

// Key is a content fingerprint. Identical (content, params) pairs always yield the same key.
type Key string

func (k Key) String() string { return string(k) }

// Short returns an abbreviated form for logs.
func (k Key) Short() string {
	s := strings.TrimPrefix(string(k), keyPrefix)
	if len(s) > 12 {
		s = s[:12]
	}
	return s
}

// Valid reports whether k has the fingerprint format.
func (k Key) Valid() bool {
	s, ok := strings.CutPrefix(string(k), keyPrefix)
	if !ok || len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// Params are the processing parameters that, together with the content, determine a result.
// Values must be JSON-encodable.
type Params map[string]any

// canonical encodes params as JSON. encoding/json writes map keys in sorted order at every
// nesting level, so the encoding does not depend on insertion order.
func (p Params) canonical() ([]byte, error) {
	if p == nil {
		p = Params{}
	}
	b, err := json.Marshal(map[string]any(p))
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache params: %w", err)
	}
	return b, nil
}

// Fingerprint hashes content together with the canonical form of params.
func Fingerprint(content []byte, params Params) (Key, error) {
	canon, err := params.canonical()
	if err != nil {
		return "", err
	}
	h := sha256.New()
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(content)))
	h.Write(n[:])
	h.Write(content)
	h.Write(canon)
	return Key(keyPrefix + hex.EncodeToString(h.Sum(nil))), nil
}

// MustFingerprint is Fingerprint for params known to be encodable.
func MustFingerprint(content []byte, params Params) Key {
	k, err := Fingerprint(content, params)
	if err != nil {
		panic(err)
	}
	return k
}
