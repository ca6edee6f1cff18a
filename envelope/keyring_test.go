package envelope

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyringPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "keyring.json")
	kr, err := OpenKeyring(path)
	require.NoError(t, err)
	_, ok := kr.Get("abcd12")
	assert.False(t, ok)

	key, err := kr.GetOrCreate("abcd12")
	require.NoError(t, err)
	same, err := kr.GetOrCreate("abcd12")
	require.NoError(t, err)
	assert.Equal(t, key, same)

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())

	reopened, err := OpenKeyring(path)
	require.NoError(t, err)
	got, ok := reopened.Get("abcd12")
	require.True(t, ok)
	assert.Equal(t, key, *got)
}

func TestInviteLinkImport(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	link, err := InviteLink("https://chat.example.com/?theme=dark", "abcd12", key, "Alice")
	require.NoError(t, err)

	u, err := url.Parse(link)
	require.NoError(t, err)
	assert.Equal(t, "abcd12", u.Query().Get("room"))
	assert.Equal(t, "Alice", u.Query().Get("invitedBy"))
	assert.Equal(t, key.String(), u.Query().Get("key"))

	kr, err := OpenKeyring(filepath.Join(t.TempDir(), "keyring.json"))
	require.NoError(t, err)
	invite, err := ImportInvite(kr, link)
	require.NoError(t, err)
	assert.Equal(t, "abcd12", invite.RoomCode)
	assert.Equal(t, "Alice", invite.InvitedBy)

	stripped, err := url.Parse(invite.Link)
	require.NoError(t, err)
	assert.Empty(t, stripped.Query().Get("key"))
	assert.Equal(t, "dark", stripped.Query().Get("theme"))

	got, ok := kr.Get("abcd12")
	require.True(t, ok)
	assert.Equal(t, key, *got)

	// a message sealed by the inviter opens with the imported key
	sealed, err := Seal(key, "welcome")
	require.NoError(t, err)
	assert.Equal(t, "welcome", OpenOrPlaceholder(got, sealed))
}

func TestImportInviteWithoutRoom(t *testing.T) {
	kr, err := OpenKeyring("")
	require.NoError(t, err)
	_, err = ImportInvite(kr, "https://chat.example.com/?key=abc")
	assert.Error(t, err)

	invite, err := ImportInvite(kr, "https://chat.example.com/?room=open")
	require.NoError(t, err)
	assert.Equal(t, "open", invite.RoomCode)
	_, ok := kr.Get("open")
	assert.False(t, ok)
}
