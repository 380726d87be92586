package filestore_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/forte001/gracecoop-go/session"
	"github.com/forte001/gracecoop-go/session/filestore"
)

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := filestore.New(path)
	require.NoError(t, err)

	require.NoError(t, store.Set(session.NamespaceMember, session.KindAccess, "access-1"))
	require.NoError(t, store.Set(session.NamespaceMember, session.KindRefresh, "refresh-1"))

	value, err := store.Get(session.NamespaceMember, session.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "access-1", value)
}

func TestStore_SurvivesReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := filestore.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(session.NamespaceAdmin, session.KindAccess, "admin-access"))
	require.NoError(t, store.Set(session.NamespaceAdmin, session.KindRefresh, "admin-refresh"))

	reloaded, err := filestore.New(path)
	require.NoError(t, err)

	value, err := reloaded.Get(session.NamespaceAdmin, session.KindRefresh)
	require.NoError(t, err)
	require.Equal(t, "admin-refresh", value)
}

func TestStore_ClearRemovesBothKinds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")

	store, err := filestore.New(path)
	require.NoError(t, err)
	require.NoError(t, store.Set(session.NamespaceMember, session.KindAccess, "access-1"))
	require.NoError(t, store.Set(session.NamespaceMember, session.KindRefresh, "refresh-1"))
	require.NoError(t, store.Set(session.NamespaceAdmin, session.KindAccess, "admin-access"))

	require.NoError(t, store.Clear(session.NamespaceMember))

	value, err := store.Get(session.NamespaceMember, session.KindAccess)
	require.NoError(t, err)
	require.Empty(t, value)

	value, err = store.Get(session.NamespaceMember, session.KindRefresh)
	require.NoError(t, err)
	require.Empty(t, value)

	// Clearing one namespace leaves the others untouched.
	value, err = store.Get(session.NamespaceAdmin, session.KindAccess)
	require.NoError(t, err)
	require.Equal(t, "admin-access", value)
}

func TestStore_MissingFileIsEmptyStore(t *testing.T) {
	store, err := filestore.New(filepath.Join(t.TempDir(), "nope", "sessions.json"))
	require.NoError(t, err)

	value, err := store.Get(session.NamespaceMember, session.KindAccess)
	require.NoError(t, err)
	require.Empty(t, value)
}

func TestStore_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	_, err := filestore.New(path)
	require.Error(t, err)
}
