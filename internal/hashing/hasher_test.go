package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"molttok/internal/config"
)

// cheap parameters keep the tests fast
func testHasher(pepper string) *Hasher {
	return NewHasher(config.HashingConfig{
		Pepper:            pepper,
		Argon2MemoryCost:  1024,
		Argon2TimeCost:    1,
		Argon2Parallelism: 1,
	})
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.VerifyPassword("hunter22", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyPassword("hunter23", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	h := testHasher("")
	a, err := h.HashPassword("same")
	require.NoError(t, err)
	b, err := h.HashPassword("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestPepperIsRequiredToVerify(t *testing.T) {
	encoded, err := testHasher("one").HashPassword("secret")
	require.NoError(t, err)

	ok, err := testHasher("two").VerifyPassword("secret", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyUsesRecordedParameters(t *testing.T) {
	encoded, err := testHasher("p").HashPassword("secret")
	require.NoError(t, err)

	stronger := NewHasher(config.HashingConfig{Pepper: "p", Argon2MemoryCost: 2048, Argon2TimeCost: 2, Argon2Parallelism: 1})
	ok, err := stronger.VerifyPassword("secret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsMalformedHashes(t *testing.T) {
	h := testHasher("")
	for _, bad := range []string{
		"",
		"plaintext",
		"$bcrypt$v=19$m=1,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
	} {
		_, err := h.VerifyPassword("pw", bad)
		assert.ErrorIs(t, err, ErrInvalidHash, bad)
	}

	_, err := h.VerifyPassword("pw", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken(32)
	require.NoError(t, err)
	b, err := GenerateToken(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "+")
	assert.NotContains(t, a, "/")
}
