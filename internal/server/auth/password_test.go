package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastParams() Argon2Params {
	return Argon2Params{MemoryKiB: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestArgon2Hasher_RoundTrip(t *testing.T) {
	h := NewArgon2Hasher(fastParams())

	enc, err := h.Hash("S3cret-pass")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(enc, "$argon2id$v=19$m=1024,t=1,p=1$"), enc)

	ok, err := h.Verify("S3cret-pass", enc)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("s3cret-pass", enc)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2Hasher_SaltsDiffer(t *testing.T) {
	h := NewArgon2Hasher(fastParams())

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestArgon2Hasher_VerifyUsesStoredParams(t *testing.T) {
	old := NewArgon2Hasher(fastParams())
	enc, err := old.Hash("pw")
	require.NoError(t, err)

	p := fastParams()
	p.MemoryKiB = 2048
	p.Iterations = 2
	current := NewArgon2Hasher(p)

	ok, err := current.Verify("pw", enc)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, current.NeedsRehash(enc))
	assert.False(t, old.NeedsRehash(enc))
}

func TestArgon2Hasher_InvalidHash(t *testing.T) {
	h := NewArgon2Hasher(fastParams())

	for _, enc := range []string{
		"",
		"plain",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=18$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$",
	} {
		_, err := h.Verify("pw", enc)
		assert.ErrorIs(t, err, ErrInvalidHash, enc)
		assert.True(t, h.NeedsRehash(enc), enc)
	}
}
