package cryptox

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(hash, "$argon2id$"))

	t.Run("verifies the right password", func(t *testing.T) {
		require.NoError(t, VerifyPassword("correct horse battery staple", hash))
	})

	t.Run("rejects the wrong password", func(t *testing.T) {
		require.Error(t, VerifyPassword("incorrect horse", hash))
	})

	t.Run("salts differ between hashes", func(t *testing.T) {
		other, err := HashPassword("correct horse battery staple")
		require.NoError(t, err)
		require.NotEqual(t, hash, other)
		require.NoError(t, VerifyPassword("correct horse battery staple", other))
	})

	t.Run("rejects malformed encodings", func(t *testing.T) {
		require.Error(t, VerifyPassword("whatever", "not-a-phc-string"))
		require.Error(t, VerifyPassword("whatever", ""))
	})
}

func TestPepper(t *testing.T) {
	t.Cleanup(func() { SetPepper("") })

	SetPepper("")
	plain, err := HashPassword("pw")
	require.NoError(t, err)

	SetPepper("pepper-value")
	peppered, err := HashPassword("pw")
	require.NoError(t, err)

	// A hash minted with the pepper verifies only while the pepper is set.
	require.NoError(t, VerifyPassword("pw", peppered))

	SetPepper("")
	require.NoError(t, VerifyPassword("pw", plain))
	require.Error(t, VerifyPassword("pw", peppered))
}
