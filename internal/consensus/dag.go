// Package consensus implements a CRDT-style, last-write-wins,
// append-only per-chunk ledger of placement records.
package consensus

import (
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	sha256simd "github.com/minio/sha256-simd"
)

// Entry is an immutable record of which devices held a chunk at a
// given logical version.
type Entry struct {
	EntryID   string
	ChunkHash string
	DeviceIDs []string
	ParentIDs []string
	Timestamp int64
	Version   int64
	Creator   string
}

// Ledger is the append-only per-chunk DAG plus a flat entry_id index.
type Ledger struct {
	mu      sync.Mutex
	logger  *slog.Logger
	history map[string][]*Entry
	byID    map[string]*Entry
}

func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger:  logger.With("component", "consensus"),
		history: make(map[string][]*Entry),
		byID:    make(map[string]*Entry),
	}
}

func computeEntryID(chunkHash string, deviceIDs []string, version int64) string {
	payload := chunkHash + strings.Join(deviceIDs, "") + strconv.FormatInt(version, 10)
	sum := sha256simd.Sum256([]byte(payload))
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// AddEntry appends a new locally-created entry for chunkHash and
// returns its entry_id.
func (l *Ledger) AddEntry(chunkHash string, deviceIDs []string, creator string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	hist := l.history[chunkHash]
	var parentIDs []string
	version := int64(1)
	if len(hist) > 0 {
		latest := hist[len(hist)-1]
		parentIDs = []string{latest.EntryID}
		version = latest.Version + 1
	}

	entry := &Entry{
		ChunkHash: chunkHash,
		DeviceIDs: append([]string{}, deviceIDs...),
		ParentIDs: parentIDs,
		Timestamp: time.Now().UnixNano(),
		Version:   version,
		Creator:   creator,
	}
	entry.EntryID = computeEntryID(chunkHash, entry.DeviceIDs, version)

	l.history[chunkHash] = append(hist, entry)
	l.byID[entry.EntryID] = entry
	l.logger.Debug("added ledger entry", "chunk_hash", chunkHash, "entry_id", entry.EntryID, "version", version)
	return entry.EntryID
}

// MergeEntry idempotently ingests a remote entry, inserting it into
// the per-chunk history at the position that keeps timestamps
// non-decreasing. A second merge of the same entry is a no-op.
func (l *Ledger) MergeEntry(entry *Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.byID[entry.EntryID]; exists {
		return
	}

	hist := l.history[entry.ChunkHash]
	idx := sort.Search(len(hist), func(i int) bool { return hist[i].Timestamp > entry.Timestamp })
	hist = append(hist, nil)
	copy(hist[idx+1:], hist[idx:])
	hist[idx] = entry
	l.history[entry.ChunkHash] = hist
	l.byID[entry.EntryID] = entry
	l.logger.Debug("merged ledger entry", "chunk_hash", entry.ChunkHash, "entry_id", entry.EntryID)
}

// GetLatest returns the last element of chunkHash's history, i.e. the
// entry with the largest timestamp after merges.
func (l *Ledger) GetLatest(chunkHash string) (*Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	hist := l.history[chunkHash]
	if len(hist) == 0 {
		return nil, false
	}
	return hist[len(hist)-1], true
}

// GetHistory returns the full per-chunk history in timestamp order.
func (l *Ledger) GetHistory(chunkHash string) []*Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	hist := l.history[chunkHash]
	out := make([]*Entry, len(hist))
	copy(out, hist)
	return out
}

// ResolveLocations returns the device set of chunkHash's latest
// entry, or nil if unknown.
func (l *Ledger) ResolveLocations(chunkHash string) []string {
	entry, ok := l.GetLatest(chunkHash)
	if !ok {
		return nil
	}
	return entry.DeviceIDs
}

// ListChunks returns all chunk hashes known to the ledger.
func (l *Ledger) ListChunks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.history))
	for hash := range l.history {
		out = append(out, hash)
	}
	return out
}

// ResolveConflict is the deterministic pairwise tie-break: greater
// timestamp wins, then greater version, then lexicographically
// greater entry_id.
func ResolveConflict(a, b *Entry) *Entry {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Timestamp != b.Timestamp {
		if a.Timestamp > b.Timestamp {
			return a
		}
		return b
	}
	if a.Version != b.Version {
		if a.Version > b.Version {
			return a
		}
		return b
	}
	if a.EntryID >= b.EntryID {
		return a
	}
	return b
}
