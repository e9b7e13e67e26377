package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	t.Run("expands set variables", func(t *testing.T) {
		t.Setenv("KESTREL_TEST_KEY", "secret-value")

		out, err := ExpandEnv([]byte("api_key: {{.KESTREL_TEST_KEY}}"))
		require.NoError(t, err)
		assert.Equal(t, "api_key: secret-value", string(out))
	})

	t.Run("unset variable is an error", func(t *testing.T) {
		_, err := ExpandEnv([]byte("api_key: {{.KESTREL_DEFINITELY_UNSET_VAR}}"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEnvExpand)
	})

	t.Run("content without references passes through", func(t *testing.T) {
		in := []byte("defaults:\n  max_rounds: 5\n")
		out, err := ExpandEnv(in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("malformed template", func(t *testing.T) {
		_, err := ExpandEnv([]byte("api_key: {{.BROKEN"))
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrEnvExpand)
	})
}
