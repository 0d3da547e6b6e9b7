package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptySecret is returned when a verifier is called without a secret.
// It signals misconfiguration and must not be treated as a failed match.
var ErrEmptySecret = errors.New("webhook secret is empty")

// Encoding selects how a signature digest is represented on the wire.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

// ParseEncoding maps a config string to an Encoding. Empty means hex.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(EncodingHex):
		return EncodingHex, nil
	case string(EncodingBase64):
		return EncodingBase64, nil
	default:
		return "", fmt.Errorf("unsupported signature encoding %q", s)
	}
}

// VerifySignature reports whether signature is the HMAC-SHA256 of body under secret,
// encoded with enc (hex when enc is empty).
//
// An empty secret or an unknown encoding is an error. An empty or undecodable
// signature returns false with a nil error. The digest comparison is constant-time.
func VerifySignature(secret []byte, signature string, body []byte, enc Encoding) (bool, error) {
	if len(secret) == 0 {
		return false, ErrEmptySecret
	}
	if enc != "" && enc != EncodingHex && enc != EncodingBase64 {
		return false, fmt.Errorf("unsupported signature encoding %q", enc)
	}
	if signature == "" {
		return false, nil
	}

	expectedMAC := computeMAC(secret, body)

	actualMAC, err := decodeSignature(signature, enc)
	if err != nil {
		return false, nil
	}

	return subtle.ConstantTimeCompare(expectedMAC, actualMAC) == 1, nil
}

// VerifySignatureString is VerifySignature for a body held as UTF-8 text.
func VerifySignatureString(secret []byte, signature, body string, enc Encoding) (bool, error) {
	return VerifySignature(secret, signature, []byte(body), enc)
}

// ComputeSignature returns the encoded HMAC-SHA256 of body under secret.
func ComputeSignature(secret, body []byte, enc Encoding) (string, error) {
	if len(secret) == 0 {
		return "", ErrEmptySecret
	}
	mac := computeMAC(secret, body)
	switch enc {
	case "", EncodingHex:
		return hex.EncodeToString(mac), nil
	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(mac), nil
	default:
		return "", fmt.Errorf("unsupported signature encoding %q", enc)
	}
}

func computeMAC(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

// decodeSignature turns the wire form of a signature back into digest bytes.
// Only decoding failures are reported; callers map them to a failed match.
func decodeSignature(signature string, enc Encoding) ([]byte, error) {
	switch enc {
	case "", EncodingHex:
		return hex.DecodeString(signature)
	case EncodingBase64:
		return base64.StdEncoding.DecodeString(signature)
	default:
		return nil, fmt.Errorf("unsupported signature encoding %q", enc)
	}
}

// VerifySharedSecret compares a static pre-shared secret with the value a sender
// provided. An empty secret returns ErrEmptySecret; an empty provided value is a
// failed match.
func VerifySharedSecret(secret, provided string) (bool, error) {
	if secret == "" {
		return false, ErrEmptySecret
	}
	if provided == "" {
		return false, nil
	}
	if len(secret) != len(provided) {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(provided)) == 1, nil
}
