// Package totpx wraps TOTP generation and verification with the parameters
// this platform standardizes on: 6 digits, SHA-1, 30 second steps, one step
// of clock-drift tolerance either side.
package totpx

import (
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	period     = 30
	secretSize = 20 // 160-bit secrets per RFC 4226 recommendation
)

// Key is a freshly generated TOTP enrollment secret.
type Key struct {
	Secret string // base32, no padding
	URI    string // otpauth:// URI for QR rendering
}

// GenerateKey creates a new TOTP secret labelled for the given issuer and
// account (typically the user's email).
func GenerateKey(issuer, account string) (Key, error) {
	k, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
		Period:      period,
		SecretSize:  secretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, err
	}
	return Key{Secret: k.Secret(), URI: k.URL()}, nil
}

// FormatSecret groups a base32 secret into 4-character blocks for manual
// entry ("JBSW Y3DP EHPK 3PXP").
func FormatSecret(secret string) string {
	secret = strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	var b strings.Builder
	for i, r := range secret {
		if i > 0 && i%4 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Verify checks a 6-digit code against the secret, accepting the current
// 30-second step and one step either side. Malformed input returns false
// rather than an error.
func Verify(code, secret string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    period,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}
