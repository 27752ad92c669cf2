package keyring

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemory_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	v, err := m.Load("token", "group.a")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, m.Save("token", []byte("secret"), "group.a"))

	v, err = m.Load("token", "group.a")
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), v)

	// Same key in another group is independent.
	v, err = m.Load("token", "group.b")
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, m.Delete("token", "group.a"))
	v, err = m.Load("token", "group.a")
	require.NoError(t, err)
	require.Nil(t, v)

	// Deleting an absent key is not an error.
	require.NoError(t, m.Delete("token", "group.a"))
}

func TestMemory_CopiesValues(t *testing.T) {
	t.Parallel()
	m := NewMemory()

	in := []byte("secret")
	require.NoError(t, m.Save("k", in, "g"))
	in[0] = 'X'

	v, err := m.Load("k", "g")
	require.NoError(t, err)
	require.Equal(t, []byte("secret"), v)
}

func TestFile_RoundTrip(t *testing.T) {
	t.Parallel()
	f, err := NewFile(t.TempDir(), []byte("pass"))
	require.NoError(t, err)

	require.NoError(t, f.Save("id_token", []byte("abc"), "group.shared"))
	require.NoError(t, f.Save("refresh_token", []byte("def"), "group.shared"))

	v, err := f.Load("id_token", "group.shared")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)

	require.NoError(t, f.Delete("id_token", "group.shared"))
	v, err = f.Load("id_token", "group.shared")
	require.NoError(t, err)
	require.Nil(t, v)

	v, err = f.Load("refresh_token", "group.shared")
	require.NoError(t, err)
	require.Equal(t, []byte("def"), v)
}

func TestFile_SharedAcrossInstances(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	a, err := NewFile(dir, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, a.Save("id_token", []byte("abc"), "group.shared"))

	// A second store over the same directory and passphrase models the
	// companion extension process.
	b, err := NewFile(dir, []byte("pass"))
	require.NoError(t, err)
	v, err := b.Load("id_token", "group.shared")
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), v)
}

func TestFile_WrongPassphrase(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	a, err := NewFile(dir, []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, a.Save("id_token", []byte("abc"), "g"))

	b, err := NewFile(dir, []byte("other"))
	require.NoError(t, err)
	_, err = b.Load("id_token", "g")
	require.Error(t, err)
}

func TestFile_DeleteAbsent(t *testing.T) {
	t.Parallel()
	f, err := NewFile(t.TempDir(), []byte("pass"))
	require.NoError(t, err)
	require.NoError(t, f.Delete("missing", "g"))
}
