// ABOUTME: Tests for the JSON-file credential store
// ABOUTME: Covers file permissions, sealing, wrong passphrases, and cleanup on last delete

package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_PermissionsAndPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s, err := NewFileStore(path, "")
	require.NoError(t, err)

	require.NoError(t, s.Set(t.Context(), "auth.refreshToken", "R1"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	// A fresh store over the same file sees the value
	reopened, err := NewFileStore(path, "")
	require.NoError(t, err)
	got, err := reopened.Get(t.Context(), "auth.refreshToken")
	require.NoError(t, err)
	assert.Equal(t, "R1", got)
}

func TestFileStore_SealedValuesAreNotPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)

	require.NoError(t, s.Set(t.Context(), "auth.accessToken", "super-secret-token"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "super-secret-token")
	assert.Contains(t, string(raw), `"sealed": true`)

	got, err := s.Get(t.Context(), "auth.accessToken")
	require.NoError(t, err)
	assert.Equal(t, "super-secret-token", got)
}

func TestFileStore_WrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s, err := NewFileStore(path, "right")
	require.NoError(t, err)
	require.NoError(t, s.Set(t.Context(), "auth.accessToken", "T1"))

	wrong, err := NewFileStore(path, "wrong")
	require.NoError(t, err)
	_, err = wrong.Get(t.Context(), "auth.accessToken")
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)

	none, err := NewFileStore(path, "")
	require.NoError(t, err)
	_, err = none.Get(t.Context(), "auth.accessToken")
	require.ErrorAs(t, err, &storeErr)
}

func TestFileStore_DeleteLastKeyRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s, err := NewFileStore(path, "")
	require.NoError(t, err)

	require.NoError(t, s.Set(t.Context(), "only", "v"))
	require.NoError(t, s.Delete(t.Context(), "only"))

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	s, err := NewFileStore(path, "")
	require.NoError(t, err)
	_, err = s.Get(t.Context(), "k")
	var storeErr *Error
	assert.ErrorAs(t, err, &storeErr)
}

func TestDefaultPath_HonoursXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-test")
	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/xdg-test", "coven", credentialsFile), path)
}

func TestFileStore_PassphraseAddedLater(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	plain, err := NewFileStore(path, "")
	require.NoError(t, err)
	require.NoError(t, plain.Set(t.Context(), "auth.refreshToken", "R1"))

	sealed, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)

	// Plaintext values stay readable before the first sealed write
	got, err := sealed.Get(t.Context(), "auth.refreshToken")
	require.NoError(t, err)
	assert.Equal(t, "R1", got)

	require.NoError(t, sealed.Set(t.Context(), "auth.accessToken", "T1"))

	got, err = sealed.Get(t.Context(), "auth.refreshToken")
	require.NoError(t, err)
	assert.Equal(t, "R1", got)
	got, err = sealed.Get(t.Context(), "auth.accessToken")
	require.NoError(t, err)
	assert.Equal(t, "T1", got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"R1"`)
	assert.NotContains(t, string(raw), `"T1"`)
}

func TestFileStore_PlainWriteToSealedFileRefused(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	sealed, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)
	require.NoError(t, sealed.Set(t.Context(), "auth.refreshToken", "R1"))

	plain, err := NewFileStore(path, "")
	require.NoError(t, err)
	err = plain.Set(t.Context(), "auth.accessToken", "T1")
	var storeErr *Error
	require.ErrorAs(t, err, &storeErr)
	assert.ErrorIs(t, err, errNoPassphrase)

	// The sealed document is untouched and still opens with the passphrase
	got, err := sealed.Get(t.Context(), "auth.refreshToken")
	require.NoError(t, err)
	assert.Equal(t, "R1", got)
	_, err = sealed.Get(t.Context(), "auth.accessToken")
	assert.ErrorIs(t, err, ErrNotFound)

	// Clearing credentials works without the passphrase
	require.NoError(t, plain.Delete(t.Context(), "auth.refreshToken"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_ReusesDerivedKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), credentialsFile)
	s, err := NewFileStore(path, "hunter2")
	require.NoError(t, err)

	require.NoError(t, s.Set(t.Context(), "a", "1"))
	first := s.key
	require.NotNil(t, first)

	require.NoError(t, s.Set(t.Context(), "b", "2"))
	_, err = s.Get(t.Context(), "a")
	require.NoError(t, err)
	assert.Same(t, first, s.key)

	// A new salt after the file is removed derives a new key
	require.NoError(t, s.Delete(t.Context(), "a"))
	require.NoError(t, s.Delete(t.Context(), "b"))
	require.NoError(t, s.Set(t.Context(), "c", "3"))
	assert.NotSame(t, first, s.key)
}
