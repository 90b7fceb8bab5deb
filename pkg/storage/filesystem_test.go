package storage

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorageStoreOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	data := []byte("%PDF-1.4 thesis body")
	ref, err := store.Store(context.Background(), "theses/abc-123", data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "theses/abc-123/"+Digest(data)+".pdf", ref)
	assert.True(t, store.Exists(ref))

	again, err := store.Store(context.Background(), "theses/abc-123", data, "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	file, err := store.Open(ref)
	require.NoError(t, err)
	content, err := io.ReadAll(file)
	require.NoError(t, err)
	require.NoError(t, file.Close())
	assert.Equal(t, data, content)

	require.NoError(t, store.Delete(ref))
	assert.False(t, store.Exists(ref))
	require.NoError(t, store.Delete(ref))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Open("../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidReference)
	assert.ErrorIs(t, store.Delete(""), ErrInvalidReference)

	ref, err := store.Store(context.Background(), "../../x", []byte("a"), "text/plain")
	require.NoError(t, err)
	assert.NotContains(t, ref, "..")
}

func TestLocalStorageRejectsEmpty(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	_, err = store.Store(context.Background(), "theses/x", nil, "application/pdf")
	assert.Error(t, err)
}
