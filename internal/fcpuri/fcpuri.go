// Package fcpuri handles the Freenet key URIs and encodings freedisk passes
// through the freenetfs pseudo-files.
package fcpuri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	schemePrefix = "freenet:"
	// privateMarker appears in the options part of SSK/USK insert (private) keys.
	privateMarker = "AQECAAE"
)

var ErrMalformedKeyPair = errors.New("malformed key pair")

// Normalize strips a leading "freenet:" and anything after the first '/'.
func Normalize(uri string) string {
	uri = strings.TrimSpace(uri)
	if i := strings.LastIndex(uri, schemePrefix); i >= 0 {
		uri = uri[i+len(schemePrefix):]
	}
	if i := strings.IndexByte(uri, '/'); i >= 0 {
		uri = uri[:i]
	}
	return uri
}

// IsPrivate reports whether uri is an SSK or USK insert key.
func IsPrivate(uri string) bool {
	uri = strings.TrimPrefix(strings.TrimSpace(uri), schemePrefix)
	if !strings.HasPrefix(uri, "SSK@") && !strings.HasPrefix(uri, "USK@") {
		return false
	}
	uri = Normalize(uri)

	parts := strings.Split(uri[len("SSK@"):], ",")
	if len(parts) != 3 {
		return false
	}
	return strings.Contains(parts[2], privateMarker)
}

// ParseKeyPair reads the two-line "public\nprivate" payload freenetfs returns
// for a key request.
func ParseKeyPair(payload string) (pub, priv string, err error) {
	lines := strings.Split(strings.TrimSpace(payload), "\n")
	if len(lines) != 2 {
		return "", "", fmt.Errorf("%w: expected 2 lines, got %d", ErrMalformedKeyPair, len(lines))
	}
	pub, priv = Normalize(lines[0]), Normalize(lines[1])
	if pub == "" || priv == "" {
		return "", "", fmt.Errorf("%w: empty key", ErrMalformedKeyPair)
	}
	return pub, priv, nil
}

// Base64Encode uses Freenet's filename-safe base64 alphabet.
func Base64Encode(raw []byte) string {
	return strings.NewReplacer("+", "~", "/", "-", "=", "_").
		Replace(base64.StdEncoding.EncodeToString(raw))
}

// Base64Decode reverses Base64Encode.
func Base64Decode(enc string) ([]byte, error) {
	std := strings.NewReplacer("~", "+", "-", "/", "_", "=").Replace(enc)
	return base64.StdEncoding.DecodeString(std)
}
