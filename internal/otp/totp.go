// Package otp implements RFC 6238 time-based one-time passwords with
// HMAC-SHA1 and the unpadded Base32 secret encoding used by authenticator
// apps.
package otp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"time"
)

const (
	// SecretSize is the raw shared-secret length (160 bits per RFC 4226).
	SecretSize = 20

	// Period is the time-step quantization in seconds.
	Period = 30

	// Digits is the code length.
	Digits = 6

	// skew is the number of adjacent time steps accepted on either side of
	// "now" to tolerate clock drift (±30s).
	skew = 1
)

var ErrMalformedInput = errors.New("malformed input")

// GenerateSecret returns a fresh 160-bit secret from a cryptographically
// secure source.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, SecretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	return secret, nil
}

// Code derives the 6-digit code for a secret at the given time step
// (floor(unixSeconds / Period)). The derivation is the RFC 4226 dynamic
// truncation: HMAC-SHA1 over the big-endian step, 31-bit word at the offset
// named by the low nibble of the final hash byte, reduced mod 10^6.
func Code(secret []byte, step int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(step))

	mac := hmac.New(sha1.New, secret)
	mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0F
	code := binary.BigEndian.Uint32(sum[offset:offset+4]) & 0x7FFFFFFF

	return fmt.Sprintf("%06d", code%1000000)
}

// StepAt quantizes a wall-clock instant into a TOTP time step.
func StepAt(t time.Time) int64 {
	return t.Unix() / Period
}

// Verify reports whether candidate matches the code for the current step or
// one step on either side. Codes of the wrong length are rejected before any
// HMAC is computed. Candidate comparison is constant time per step.
func Verify(secret []byte, candidate string, now time.Time) bool {
	if len(secret) == 0 || len(candidate) != Digits {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if candidate[i] < '0' || candidate[i] > '9' {
			return false
		}
	}
	step := StepAt(now)
	ok := false
	for d := int64(-skew); d <= skew; d++ {
		if constantTimeEqual(candidate, Code(secret, step+d)) {
			ok = true
		}
	}
	return ok
}

// ProvisionURI renders the otpauth:// URI consumed by authenticator apps.
// Pure formatting; the secret is embedded in its Base32 form.
func ProvisionURI(issuer, account string, secret []byte) string {
	return fmt.Sprintf(
		"otpauth://totp/%s:%s?secret=%s&issuer=%s&algorithm=SHA1&digits=%d&period=%d",
		url.PathEscape(issuer), url.PathEscape(account),
		Base32Encode(secret), url.QueryEscape(issuer), Digits, Period,
	)
}

func constantTimeEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	var diff byte
	for i := 0; i < len(a); i++ {
		diff |= a[i] ^ b[i]
	}
	return diff == 0
}
