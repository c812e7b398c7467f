package syncproto

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPeerStateBagSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	bag := NewPeerStateBag(dir, testLogger())
	bag.Set("peer-a", []byte{1, 2, 3})
	require.NoError(t, bag.Save())

	reloaded := NewPeerStateBag(dir, testLogger())
	require.NoError(t, reloaded.Load())

	assert.Equal(t, []byte{1, 2, 3}, reloaded.Get("peer-a"))
	assert.Equal(t, 1, reloaded.PeerCount())
}

func TestPeerStateBagMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	bag := NewPeerStateBag(dir, testLogger())
	require.NoError(t, bag.Load())
	assert.Equal(t, 0, bag.PeerCount())
}

func TestPeerStateBagDropsUndecodableEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, peerStateFileName)
	require.NoError(t, os.WriteFile(path, []byte(`{"good":"AQID","bad":"!!!not-base64!!!"}`), 0o644))

	bag := NewPeerStateBag(dir, testLogger())
	require.NoError(t, bag.Load())

	assert.Equal(t, 1, bag.PeerCount())
	assert.Equal(t, []byte{1, 2, 3}, bag.Get("good"))
	assert.Nil(t, bag.Get("bad"))
}
