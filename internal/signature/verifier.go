// Package signature verifies HMAC-SHA256 webhook signatures.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Header names carrying signatures.
const (
	HeaderSignature      = "X-Signature"
	HeaderHubSignature   = "X-Hub-Signature-256"
	HeaderTimestamp      = "X-Timestamp"
	HeaderStripe         = "Stripe-Signature"
	genericDigestPrefix  = "sha256="
	timestampedTimeKey   = "t"
	timestampedDigestKey = "v1"
)

var (
	ErrSecretNotConfigured = errors.New("secret not configured")
	ErrMissingSignature    = errors.New("missing signature")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrInvalidTimestamp    = errors.New("invalid timestamp")
	ErrTimestampSkew       = errors.New("timestamp skew too large")
)

// VerifyGeneric reports whether header holds the hex HMAC-SHA256 of body under secret.
// An optional "sha256=" prefix is accepted.
func VerifyGeneric(secret string, body []byte, header string) bool {
	if secret == "" || header == "" {
		return false
	}
	return equalHex(digest(secret, body), strings.TrimPrefix(strings.TrimSpace(header), genericDigestPrefix))
}

// VerifyTimestamped checks a "t=<unix>,v1=<hex>" header where the digest covers
// "<unix>.<body>". The parsed timestamp is returned even when the digest does not match
// so callers can still apply a skew check.
func VerifyTimestamped(secret string, body []byte, header string) (bool, *int64) {
	ts, sigs := ParseTimestampedHeader(header)
	if secret == "" || ts == nil || len(sigs) == 0 {
		return false, ts
	}
	expected := digest(secret, signedPayload(*ts, body))
	for _, sig := range sigs {
		if equalHex(expected, sig) {
			return true, ts
		}
	}
	return false, ts
}

// ParseTimestampedHeader splits a timestamped signature header into its timestamp and
// v1 digests. A malformed timestamp invalidates the whole header.
func ParseTimestampedHeader(header string) (*int64, []string) {
	if header == "" {
		return nil, nil
	}
	var (
		ts   *int64
		sigs []string
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(k) {
		case timestampedTimeKey:
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				return nil, nil
			}
			ts = &n
		case timestampedDigestKey:
			if v = strings.TrimSpace(v); v != "" {
				sigs = append(sigs, v)
			}
		}
	}
	return ts, sigs
}

// CheckSkew returns ErrTimestampSkew when ts is more than maxSkew away from now.
func CheckSkew(now time.Time, ts int64, maxSkew time.Duration) error {
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(maxSkew/time.Second) {
		return ErrTimestampSkew
	}
	return nil
}

// ParseTimestamp parses a unix seconds header value.
func ParseTimestamp(raw string) (int64, error) {
	ts, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, ErrInvalidTimestamp
	}
	return ts, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(digest(secret, body))
}

// SignTimestamped builds a complete timestamped signature header.
func SignTimestamped(secret string, body []byte, ts int64) string {
	sig := hex.EncodeToString(digest(secret, signedPayload(ts, body)))
	return timestampedTimeKey + "=" + strconv.FormatInt(ts, 10) + "," + timestampedDigestKey + "=" + sig
}

func signedPayload(ts int64, body []byte) []byte {
	prefix := strconv.FormatInt(ts, 10) + "."
	out := make([]byte, 0, len(prefix)+len(body))
	out = append(out, prefix...)
	return append(out, body...)
}

func digest(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

func equalHex(expected []byte, provided string) bool {
	got, err := hex.DecodeString(provided)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}
