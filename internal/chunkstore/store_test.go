package chunkstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, chunkSize int) (*Store, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "corestore-chunkstore-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := Config{ChunkSize: chunkSize, Path: dir}
	s, err := Open(cfg, nil)
	require.NoError(t, err)
	return s, dir
}

func TestStoreRetrieveRoundTripUnencrypted(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	hashes, err := s.StorePayload(payload, "doc1", false)
	require.NoError(t, err)
	require.Len(t, hashes, 4)

	got, err := s.RetrievePayload("doc1")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestStoreRetrieveRoundTripEncrypted(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}

	hashes, err := s.StorePayload(payload, "doc2", true)
	require.NoError(t, err)
	require.Len(t, hashes, 4)

	for _, h := range hashes {
		c, ok := s.GetChunk(h)
		require.True(t, ok)
		require.True(t, c.IsEncrypted)
		require.Len(t, c.IV, 12)
		require.Len(t, c.Tag, 16)
	}

	got, err := s.RetrievePayload("doc2")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestContentAddressingDeterministicWhenUnencrypted(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := []byte("deterministic payload for hashing")
	h1, err := s.StorePayload(payload, "a", false)
	require.NoError(t, err)
	h2, err := s.StorePayload(payload, "b", false)
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestChunkBoundaries(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := make([]byte, 200)
	for i := range payload {
		payload[i] = byte(i)
	}
	hashes, err := s.StorePayload(payload, "boundaries", false)
	require.NoError(t, err)
	require.Len(t, hashes, 4)

	wantSizes := []int64{64, 64, 64, 8}
	for i, h := range hashes {
		c, ok := s.GetChunk(h)
		require.True(t, ok)
		require.Equal(t, wantSizes[i], c.OriginalSize)
		require.Equal(t, int64(i), c.Index)
	}
}

func TestTagAuthenticatesAgainstTampering(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := []byte("some secret bytes to protect")
	hashes, err := s.StorePayload(payload, "secret", true)
	require.NoError(t, err)

	c, ok := s.GetChunk(hashes[0])
	require.True(t, ok)
	c.Tag[0] ^= 0xFF

	_, err = s.RetrievePayload("secret")
	require.Error(t, err)
}

func TestRetrieveUnknownContentFails(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	_, err := s.RetrievePayload("does-not-exist")
	require.Error(t, err)
}

func TestRoundTripSurvivesRestart(t *testing.T) {
	dir, err := os.MkdirTemp("", "corestore-chunkstore-restart-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	payload := []byte("persisted across a reopen of the backing store")

	s1, err := Open(Config{ChunkSize: 16, Path: dir}, nil)
	require.NoError(t, err)
	_, err = s1.StorePayload(payload, "restart-doc", true)
	require.NoError(t, err)
	require.NoError(t, s1.FlushToDisk())

	s2, err := Open(Config{ChunkSize: 16, Path: dir}, nil)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.RetrievePayload("restart-doc")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestGetContentAddressStable(t *testing.T) {
	s, _ := newTestStore(t, 64)
	defer s.Close()

	payload := []byte("content address should be stable across calls")
	_, err := s.StorePayload(payload, "addr-doc", false)
	require.NoError(t, err)

	a1, err := s.GetContentAddress("addr-doc")
	require.NoError(t, err)
	a2, err := s.GetContentAddress("addr-doc")
	require.NoError(t, err)
	require.Equal(t, a1, a2)
	require.Len(t, a1, 64)
}
