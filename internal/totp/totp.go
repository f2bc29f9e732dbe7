// Package totp implements RFC 6238 time-based one-time passwords for
// step-up authentication. Codes are 6 digits over a 30-second period and
// verification tolerates one period of clock drift on either side.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

const (
	// Period is the time-step in seconds.
	Period = 30
	// Digits is the length of generated codes.
	Digits = 6
	// Skew is how many periods on either side of now a code is accepted.
	Skew = 1

	secretBytes = 20
)

// ErrEmptySecret is returned when verifying against a missing secret.
var ErrEmptySecret = errors.New("totp: empty secret")

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateSecret returns a new random shared secret, base32-encoded for
// authenticator apps.
func GenerateSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return b32.EncodeToString(raw), nil
}

// ProvisioningURI builds an otpauth:// URI for external QR rendering.
func ProvisioningURI(secret, issuer, account string) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(Period))
	v.Set("digits", strconv.Itoa(Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Verify reports whether code is valid for the secret at time now,
// accepting the current time-step and Skew steps on either side.
// It is pure and performs no I/O.
func Verify(secret, code string, now time.Time) (bool, error) {
	if secret == "" {
		return false, ErrEmptySecret
	}
	if len(code) != Digits || !isNumeric(code) {
		return false, nil
	}

	raw, err := b32.DecodeString(secret)
	if err != nil {
		return false, fmt.Errorf("totp: decode secret: %w", err)
	}

	counter := now.Unix() / Period
	for step := int64(-Skew); step <= Skew; step++ {
		c := counter + step
		if c < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(raw, c)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

// CodeAt returns the code for the secret at the given time. Used by tests
// and by enrollment flows that display the expected code.
func CodeAt(secret string, at time.Time) (string, error) {
	raw, err := b32.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("totp: decode secret: %w", err)
	}
	return hotp(raw, at.Unix()/Period), nil
}

// hotp computes the RFC 4226 HMAC-based one-time password for a counter.
func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < Digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", Digits, bin%mod)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
