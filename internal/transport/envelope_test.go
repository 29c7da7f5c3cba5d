package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshweave/corestore/internal/chunkstore"
	"github.com/meshweave/corestore/internal/telemetry"
)

func TestChunkResponseRoundTrip(t *testing.T) {
	c := &chunkstore.Chunk{
		Hash:         "abc123",
		Data:         []byte("compressed-bytes"),
		IV:           []byte("123456789012"),
		Tag:          []byte("1234567890123456"),
		OriginalSize: 42,
		Index:        3,
		IsEncrypted:  true,
	}
	env, err := EncodeChunkResponse(c, "peerA", "peerB", 1000)
	require.NoError(t, err)
	require.Equal(t, ChunkResponse, env.Type)
	require.NotEmpty(t, env.MessageID)

	got, err := DecodeChunkResponse(env)
	require.NoError(t, err)
	require.Equal(t, c, got)
}

func TestTelemetryUpdateRoundTrip(t *testing.T) {
	snap := telemetry.Snapshot{DeviceID: "d1", BatteryPercent: 80, LinkQuality: 0.9}
	env, err := EncodeTelemetryUpdate(snap, "d1", 2000)
	require.NoError(t, err)
	require.Equal(t, TelemetryUpdate, env.Type)

	got, err := DecodeTelemetryUpdate(env)
	require.NoError(t, err)
	require.Equal(t, snap, got)
}
