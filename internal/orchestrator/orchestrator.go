// Package orchestrator wires ChunkStore, Scheduler, Consensus and
// Routing into the caller-side sequence the core mandates: store,
// place, record, register. It holds no state beyond references to
// the four components and is safe to retry end to end: chunk storage is
// content-addressed, a placement equal to a chunk's latest ledger entry
// is not recorded again, and the routing index is overwritten.
package orchestrator

import (
	"log/slog"
	"slices"

	"github.com/meshweave/corestore/internal/chunkstore"
	"github.com/meshweave/corestore/internal/consensus"
	"github.com/meshweave/corestore/internal/routing"
	"github.com/meshweave/corestore/internal/scheduler"
)

// Orchestrator glues the four core components together.
type Orchestrator struct {
	Store     *chunkstore.Store
	Scheduler *scheduler.Scheduler
	Ledger    *consensus.Ledger
	Graph     *routing.Graph
	Creator   string

	logger *slog.Logger
}

func New(store *chunkstore.Store, sched *scheduler.Scheduler, ledger *consensus.Ledger, graph *routing.Graph, creator string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		Store:     store,
		Scheduler: sched,
		Ledger:    ledger,
		Graph:     graph,
		Creator:   creator,
		logger:    logger.With("component", "orchestrator"),
	}
}

// Result reports the placement decided for each chunk produced by
// Ingest, alongside the ledger entry that recorded it.
type Result struct {
	ChunkHash string
	DeviceIDs []string
	EntryID   string
}

// Ingest runs the full store -> place -> record -> register sequence
// for one payload. A partial failure midway (e.g. a device with no
// capacity) does not abort later chunks; it surfaces as an empty
// DeviceIDs/EntryID for that chunk so the caller can retry the whole
// call safely: an unencrypted payload yields the same chunk hashes, an
// unchanged placement reuses the chunk's latest ledger entry, and the
// routing index is overwritten. Encrypted payloads get fresh hashes on
// every call.
func (o *Orchestrator) Ingest(payload []byte, contentID string, encrypt bool, chunkSizeBytes int64) ([]Result, error) {
	hashes, err := o.Store.StorePayload(payload, contentID, encrypt)
	if err != nil {
		return nil, err
	}

	placements := o.Scheduler.PlaceChunks(hashes, chunkSizeBytes)
	results := make([]Result, 0, len(placements))
	for _, p := range placements {
		var entryID string
		if len(p.DeviceIDs) > 0 {
			if latest, ok := o.Ledger.GetLatest(p.Key); ok && slices.Equal(latest.DeviceIDs, p.DeviceIDs) {
				entryID = latest.EntryID
			} else {
				entryID = o.Ledger.AddEntry(p.Key, p.DeviceIDs, o.Creator)
			}
			o.Graph.RegisterChunkLocation(p.Key, p.DeviceIDs)
		} else {
			o.logger.Warn("chunk placement failed, skipping ledger/routing update", "chunk_hash", p.Key)
		}
		results = append(results, Result{ChunkHash: p.Key, DeviceIDs: p.DeviceIDs, EntryID: entryID})
	}
	return results, nil
}

// Resolve returns the latest known replica set for a chunk, preferring
// the ledger (the system of record) and falling back to the routing
// index if the ledger has no history yet.
func (o *Orchestrator) Resolve(chunkHash string) []string {
	if locs := o.Ledger.ResolveLocations(chunkHash); len(locs) > 0 {
		return locs
	}
	return o.Graph.ResolveChunkLocations(chunkHash)
}
