// Package encode implements the smart byte encoder used for every byte
// payload the server sends to the client. Bytes that survive a strict UTF-8
// decode go out inline as text; everything else falls back to base64. Input
// payloads from the client are always base64 on the wire.
package encode

import (
	"encoding/base64"
	"fmt"
	"unicode/utf8"

	"github.com/scrypster/remoted/pkg/types"
)

// Bytes serializes raw output bytes into a (string, encoding) pair.
// The mapping is total: every byte string decodes back losslessly per the
// returned encoding.
func Bytes(data []byte) (string, types.Encoding) {
	if utf8.Valid(data) {
		return string(data), types.EncodingText
	}
	return base64.StdEncoding.EncodeToString(data), types.EncodingBase64
}

// Decode reverses Bytes for a given encoding. Used by tests and by callers
// that need to round-trip a payload.
func Decode(s string, enc types.Encoding) ([]byte, error) {
	switch enc {
	case types.EncodingText:
		return []byte(s), nil
	case types.EncodingBase64:
		return base64.StdEncoding.DecodeString(s)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

// Base64 serializes bytes that are always base64 on the wire regardless of
// content, such as file.read payloads.
func Base64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Input decodes a base64 payload received from the client.
func Input(b64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 payload: %w", err)
	}
	return data, nil
}
