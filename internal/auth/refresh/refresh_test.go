package refresh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateTokenReturnsDistinctRawValuesWithMatchingHash(t *testing.T) {
	rawA, hashA, err := GenerateToken()
	require.NoError(t, err)
	rawB, hashB, err := GenerateToken()
	require.NoError(t, err)

	assert.NotEqual(t, rawA, rawB, "two generated tokens must not collide")
	assert.Equal(t, Sha256Hash(rawA), hashA)
	assert.Equal(t, Sha256Hash(rawB), hashB)
}

func TestSha256HashIsDeterministicAndCollisionFree(t *testing.T) {
	assert.Equal(t, Sha256Hash("same-input"), Sha256Hash("same-input"))
	assert.NotEqual(t, Sha256Hash("input-a"), Sha256Hash("input-b"))
}
