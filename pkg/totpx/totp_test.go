package totpx

import (
	"strings"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestGenerateKey(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey("Lume", "alice@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, key.Secret)
	require.True(t, strings.HasPrefix(key.URI, "otpauth://totp/"))
	require.Contains(t, key.URI, "Lume")
}

func TestFormatSecret(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ABCD EFGH", FormatSecret("ABCDEFGH"))
	require.Equal(t, "ABCD EF", FormatSecret("ABCDEF"))
	require.Equal(t, "AB", FormatSecret("AB"))
	require.Equal(t, "", FormatSecret(""))
}

func TestVerify(t *testing.T) {
	t.Parallel()

	key, err := GenerateKey("Lume", "alice@example.com")
	require.NoError(t, err)

	t.Run("accepts current code", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret, time.Now())
		require.NoError(t, err)
		require.True(t, Verify(code, key.Secret))
	})

	t.Run("accepts code from the previous step", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret, time.Now().Add(-30*time.Second))
		require.NoError(t, err)
		require.True(t, Verify(code, key.Secret))
	})

	t.Run("rejects code from two steps back", func(t *testing.T) {
		code, err := totp.GenerateCode(key.Secret, time.Now().Add(-90*time.Second))
		require.NoError(t, err)
		require.False(t, Verify(code, key.Secret))
	})

	t.Run("rejects wrong and malformed codes", func(t *testing.T) {
		require.False(t, Verify("000000", key.Secret))
		require.False(t, Verify("", key.Secret))
		require.False(t, Verify("not-a-code", key.Secret))
		require.False(t, Verify("123456", "not-a-secret"))
	})
}
