// Package transport defines the opaque envelope exchanged with the
// external peer transport. corestore never opens a socket itself; it
// only decodes and encodes envelope payloads the transport carries.
package transport

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/meshweave/corestore/internal/chunkstore"
	"github.com/meshweave/corestore/internal/telemetry"
)

// MessageType enumerates the message kinds the transport carries.
type MessageType string

const (
	ChunkRequest      MessageType = "CHUNK_REQUEST"
	ChunkResponse     MessageType = "CHUNK_RESPONSE"
	TelemetryUpdate   MessageType = "TELEMETRY_UPDATE"
	ModelShardRequest MessageType = "MODEL_SHARD_REQUEST"
	InferenceRequest  MessageType = "INFERENCE_REQUEST"
	InferenceResult   MessageType = "INFERENCE_RESULT"
	PeerDiscovery     MessageType = "PEER_DISCOVERY"
	Heartbeat         MessageType = "HEARTBEAT"
)

// Envelope is the opaque carrier exposed to the transport: corestore
// reads Type/Payload and ignores routing concerns, which belong to
// the transport itself.
type Envelope struct {
	Type        MessageType `json:"type"`
	SenderID    string      `json:"sender_id"`
	RecipientID string      `json:"recipient_id"`
	Payload     []byte      `json:"payload_bytes"`
	Timestamp   int64       `json:"timestamp"`
	MessageID   string      `json:"message_id"`
}

// NewEnvelope builds an envelope with a fresh message id.
func NewEnvelope(t MessageType, senderID, recipientID string, payload []byte, timestamp int64) Envelope {
	return Envelope{
		Type:        t,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     payload,
		Timestamp:   timestamp,
		MessageID:   uuid.NewString(),
	}
}

// ChunkRecord is the wire form of a chunk carried in a CHUNK_RESPONSE
// payload; it decodes into a *chunkstore.Chunk.
type ChunkRecord struct {
	Hash         string `json:"hash"`
	Data         []byte `json:"data"`
	IV           []byte `json:"iv,omitempty"`
	Tag          []byte `json:"tag,omitempty"`
	OriginalSize int64  `json:"original_size"`
	Index        int64  `json:"index"`
	IsEncrypted  bool   `json:"is_encrypted"`
}

// DecodeChunkResponse decodes a CHUNK_RESPONSE envelope's payload into
// a chunk consumable by ChunkStore.StoreChunk.
func DecodeChunkResponse(env Envelope) (*chunkstore.Chunk, error) {
	var rec ChunkRecord
	if err := json.Unmarshal(env.Payload, &rec); err != nil {
		return nil, err
	}
	return &chunkstore.Chunk{
		Hash:         rec.Hash,
		Data:         rec.Data,
		IV:           rec.IV,
		Tag:          rec.Tag,
		OriginalSize: rec.OriginalSize,
		Index:        rec.Index,
		IsEncrypted:  rec.IsEncrypted,
	}, nil
}

// EncodeChunkResponse builds a CHUNK_RESPONSE envelope payload from a
// chunk about to be handed to the transport.
func EncodeChunkResponse(c *chunkstore.Chunk, senderID, recipientID string, timestamp int64) (Envelope, error) {
	rec := ChunkRecord{
		Hash:         c.Hash,
		Data:         c.Data,
		IV:           c.IV,
		Tag:          c.Tag,
		OriginalSize: c.OriginalSize,
		Index:        c.Index,
		IsEncrypted:  c.IsEncrypted,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return Envelope{}, err
	}
	return NewEnvelope(ChunkResponse, senderID, recipientID, payload, timestamp), nil
}

// DecodeTelemetryUpdate decodes a TELEMETRY_UPDATE envelope's payload
// into a snapshot consumable by Scheduler.UpdateTelemetry.
func DecodeTelemetryUpdate(env Envelope) (telemetry.Snapshot, error) {
	var snap telemetry.Snapshot
	if err := json.Unmarshal(env.Payload, &snap); err != nil {
		return telemetry.Snapshot{}, err
	}
	return snap, nil
}

// EncodeTelemetryUpdate builds a TELEMETRY_UPDATE envelope payload.
func EncodeTelemetryUpdate(snap telemetry.Snapshot, senderID string, timestamp int64) (Envelope, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return Envelope{}, err
	}
	return NewEnvelope(TelemetryUpdate, senderID, "", payload, timestamp), nil
}
