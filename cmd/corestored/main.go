package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/schollz/progressbar/v3"

	"github.com/meshweave/corestore/internal/chunkstore"
	"github.com/meshweave/corestore/internal/consensus"
	"github.com/meshweave/corestore/internal/orchestrator"
	"github.com/meshweave/corestore/internal/routing"
	"github.com/meshweave/corestore/internal/scheduler"
	"github.com/meshweave/corestore/internal/telemetry"
)

func main() {
	dbPath := flag.String("db", "corestore-data", "backing store directory")
	srcPath := flag.String("src", "", "file to ingest")
	contentID := flag.String("content-id", "", "content identifier")
	encrypt := flag.Bool("encrypt", false, "AES-256-GCM encrypt chunks")
	chunkSize := flag.Int("chunk-size", chunkstore.DefaultChunkSize, "chunk size in bytes")
	replication := flag.Int("replication", scheduler.DefaultReplicationFactor, "replication factor")
	flag.Parse()

	if *srcPath == "" || *contentID == "" {
		fmt.Println("usage: corestored -src <file> -content-id <id> [-db path] [-encrypt] [-chunk-size n] [-replication n]")
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fmt.Println("Starting corestore ingest...")

	store, err := chunkstore.Open(chunkstore.Config{ChunkSize: *chunkSize, Path: *dbPath}, logger)
	handle(err)
	defer store.Close()

	sched := scheduler.New(scheduler.Config{ReplicationFactor: *replication}, logger)
	ledger := consensus.New(logger)
	graph := routing.New(logger)
	seedLocalDevice(sched)

	orch := orchestrator.New(store, sched, ledger, graph, "corestored-local", logger)

	info, err := os.Stat(*srcPath)
	handle(err)

	bar := progressbar.DefaultBytes(info.Size(), "reading "+*srcPath)
	f, err := os.Open(*srcPath)
	handle(err)
	defer f.Close()

	payload := make([]byte, info.Size())
	_, err = io.ReadFull(io.TeeReader(f, bar), payload)
	handle(err)

	start := time.Now()
	results, err := orch.Ingest(payload, *contentID, *encrypt, int64(*chunkSize))
	handle(err)
	fmt.Printf("\nIngested %d chunks in %s\n", len(results), time.Since(start))

	verifyBar := pb.StartNew(len(results))
	for _, r := range results {
		verifyBar.Increment()
		if len(r.DeviceIDs) == 0 {
			fmt.Printf("\nwarning: chunk %s has no viable replica\n", r.ChunkHash)
		}
	}
	verifyBar.Finish()

	address, err := store.GetContentAddress(*contentID)
	handle(err)
	fmt.Printf("content address: %s\n", address)
}

// seedLocalDevice registers a single placeholder device so a
// single-node run has somewhere to place chunks; a real deployment
// receives telemetry over the transport instead.
func seedLocalDevice(sched *scheduler.Scheduler) {
	sched.UpdateTelemetry(telemetry.Snapshot{
		DeviceID:           "local",
		AvailableStorageMB: 1 << 20,
		IsPluggedIn:        true,
		LinkQuality:        1,
		TimestampUnixNano:  time.Now().UnixNano(),
	})
}

func handle(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "corestored:", err)
		os.Exit(1)
	}
}
