package kvstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyTranslation(t *testing.T) {
	kvKey, err := toKVKey("propositions/abcd1234")
	require.NoError(t, err)
	assert.Equal(t, "propositions.abcd1234", kvKey)
	assert.Equal(t, "propositions/abcd1234", fromKVKey(kvKey))
}

func TestKeyTranslationRejections(t *testing.T) {
	for _, key := range []string{"", "has.dot", "/leading", "trailing/"} {
		t.Run(key, func(t *testing.T) {
			_, err := toKVKey(key)
			assert.Error(t, err)
		})
	}
}
