package analysis

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kousei/internal/models"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Encoding names reported by DecodeText.
const (
	EncodingUTF8    = "utf-8"
	EncodingUTF8BOM = "utf-8-sig"
	EncodingUTF16   = "utf-16"
	EncodingSJIS    = "shift_jis"
	EncodingLossy   = "utf-8-lossy"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// DecodeText converts source bytes to a UTF-8 string. It tries UTF-8 (with or without BOM),
// BOM-marked UTF-16, then Shift_JIS (Windows-31J). Bytes valid in none of them are decoded
// as UTF-8 with replacement characters.
func DecodeText(b []byte) (string, string, error) {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		b = b[len(bomUTF8):]
		if utf8.Valid(b) {
			return string(b), EncodingUTF8BOM, nil
		}
	case bytes.HasPrefix(b, bomUTF16LE), bytes.HasPrefix(b, bomUTF16BE):
		s, err := decodeWith(unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM), b)
		if err != nil {
			return "", "", fmt.Errorf("failed to decode utf-16: %w", err)
		}
		return s, EncodingUTF16, nil
	case utf8.Valid(b):
		return string(b), EncodingUTF8, nil
	}

	if s, err := decodeWith(japanese.ShiftJIS, b); err == nil && !strings.ContainsRune(s, utf8.RuneError) {
		return s, EncodingSJIS, nil
	}
	return strings.ToValidUTF8(string(b), "\uFFFD"), EncodingLossy, nil
}

func decodeWith(enc encoding.Encoding, b []byte) (string, error) {
	out, _, err := transform.Bytes(enc.NewDecoder(), b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// LoadDocument reads a LaTeX source file, decodes it and builds a Document.
func LoadDocument(path string, mode models.SplitMode) (*models.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	text, _, err := DecodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return models.NewDocument(path, text, mode)
}
