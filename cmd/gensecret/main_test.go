package main

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_run(t *testing.T) {
	t.Run("default length", func(t *testing.T) {
		key, err := run(nil)

		require.NoError(t, err)
		b, err := hex.DecodeString(key)
		require.NoError(t, err)
		require.Len(t, b, 32)
	})

	t.Run("custom length", func(t *testing.T) {
		key, err := run([]string{"-b", "64"})

		require.NoError(t, err)
		require.Len(t, key, 128)
	})

	t.Run("random", func(t *testing.T) {
		first, err := run(nil)
		require.NoError(t, err)
		second, err := run(nil)
		require.NoError(t, err)

		require.NotEqual(t, first, second)
	})

	t.Run("too short", func(t *testing.T) {
		_, err := run([]string{"--bytes", "16"})
		require.Error(t, err)
	})
}
