// Package dataurl handles images passed around as base64 payloads, either
// bare or wrapped in a data: URL.
package dataurl

import (
	"encoding/base64"
	"errors"
	"strings"
)

const defaultMIME = "image/jpeg"

// IsDataURL reports whether s uses the data: scheme.
func IsDataURL(s string) bool {
	return len(s) >= 5 && strings.EqualFold(s[:5], "data:")
}

// StripPrefix returns the base64 payload of s, dropping a data: header when
// one is present.
func StripPrefix(s string) string {
	s = strings.TrimSpace(s)
	if !IsDataURL(s) {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// MIMEType returns the declared type of a data URL, or sniffs it from the
// leading base64 characters of a bare payload.
func MIMEType(s string) string {
	s = strings.TrimSpace(s)
	if IsDataURL(s) {
		header := s[5:]
		if i := strings.IndexByte(header, ','); i >= 0 {
			header = header[:i]
		}
		if mime, _, _ := strings.Cut(header, ";"); mime != "" {
			return strings.ToLower(mime)
		}
		return defaultMIME
	}
	switch {
	case strings.HasPrefix(s, "/9j/"):
		return "image/jpeg"
	case strings.HasPrefix(s, "iVBOR"):
		return "image/png"
	case strings.HasPrefix(s, "PHN2Z"):
		return "image/svg+xml"
	case strings.HasPrefix(s, "UklGR"):
		return "image/webp"
	}
	return defaultMIME
}

// Normalize turns a bare payload into a data URL and leaves data URLs as is.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || IsDataURL(s) {
		return s
	}
	return "data:" + MIMEType(s) + ";base64," + s
}

// Encode wraps raw bytes into a base64 data URL.
func Encode(mime string, data []byte) string {
	mime = strings.TrimSpace(mime)
	if mime == "" {
		mime = defaultMIME
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// Decode returns the MIME type and bytes of a data URL or bare payload.
func Decode(s string) (string, []byte, error) {
	payload := StripPrefix(s)
	if payload == "" {
		return "", nil, errors.New("dataurl: empty payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return "", nil, errors.New("dataurl: invalid base64 payload")
		}
	}
	return MIMEType(s), data, nil
}
