// Package scheduler scores registered devices against storage and
// compute workloads and selects replica sets.
package scheduler

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/meshweave/corestore/internal/telemetry"
)

const DefaultReplicationFactor = 3

// Config holds Scheduler tunables.
type Config struct {
	ReplicationFactor int
}

func DefaultConfig() Config {
	return Config{ReplicationFactor: DefaultReplicationFactor}
}

// Placement is the outcome of placing a chunk or shard: the chosen
// replica set and the mean score of the chosen devices.
type Placement struct {
	Key       string
	DeviceIDs []string
	Score     float64
}

// ModelShard describes a contiguous slice of model layers assigned to
// a set of devices.
type ModelShard struct {
	ShardID     string
	ModelName   string
	LayerStart  int
	LayerEnd    int
	DeviceIDs   []string
	SizeBytes   int64
	ContentHash string
}

// Scheduler owns the telemetry table and is otherwise pure: every
// scoring call is a deterministic function of the current table.
type Scheduler struct {
	mu     sync.RWMutex
	cfg    Config
	logger *slog.Logger

	telemetry map[string]telemetry.Snapshot
	weights   telemetry.Weights
}

func New(cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultReplicationFactor
	}
	return &Scheduler{
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		telemetry: make(map[string]telemetry.Snapshot),
		weights:   telemetry.DefaultWeights(),
	}
}

// UpdateTelemetry wholly replaces the previous snapshot for a device.
func (s *Scheduler) UpdateTelemetry(snap telemetry.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.telemetry[snap.DeviceID] = snap
}

type deviceScore struct {
	deviceID string
	storage  float64
	compute  float64
	shard    float64
}

// requiredMB is ceil(size_bytes / 2^20).
func requiredMB(sizeBytes int64) float64 {
	return math.Ceil(float64(sizeBytes) / (1 << 20))
}

func storageScore(snap telemetry.Snapshot, sizeBytes int64) float64 {
	required := requiredMB(sizeBytes)
	if snap.AvailableStorageMB < required {
		return 0
	}
	storageTerm := math.Min(30, 5*snap.AvailableStorageMB/required)
	powerTerm := 25 * snap.BatteryPercent / 100
	if snap.IsPluggedIn {
		powerTerm = 25
	}
	linkTerm := 25 * snap.LinkQuality
	cpuTerm := 10 * (100 - snap.CPULoadPercent) / 100
	ramTerm := 10 * (100 - snap.RAMUsagePercent) / 100
	return storageTerm + powerTerm + linkTerm + cpuTerm + ramTerm
}

func (s *Scheduler) scoreDevices(sizeBytes int64) []deviceScore {
	scores := make([]deviceScore, 0, len(s.telemetry))
	for id, snap := range s.telemetry {
		storage := storageScore(snap, sizeBytes)
		compute := snap.ComputeScore(s.weights)
		shard := 0.4*storage + 0.6*compute
		scores = append(scores, deviceScore{deviceID: id, storage: storage, compute: compute, shard: shard})
	}
	return scores
}

func selectTop(scores []deviceScore, r int, pick func(deviceScore) float64) ([]string, float64) {
	viable := make([]deviceScore, 0, len(scores))
	for _, sc := range scores {
		if pick(sc) > 0 {
			viable = append(viable, sc)
		}
	}
	sort.Slice(viable, func(i, j int) bool {
		if pick(viable[i]) != pick(viable[j]) {
			return pick(viable[i]) > pick(viable[j])
		}
		return viable[i].deviceID < viable[j].deviceID
	})
	if len(viable) > r {
		viable = viable[:r]
	}
	if len(viable) == 0 {
		return nil, 0
	}
	ids := make([]string, len(viable))
	sum := 0.0
	for i, sc := range viable {
		ids[i] = sc.deviceID
		sum += pick(sc)
	}
	return ids, sum / float64(len(ids))
}

// PlaceChunks scores every registered device against each hash's
// storage requirement independently and returns the top
// ReplicationFactor devices per hash.
func (s *Scheduler) PlaceChunks(hashes []string, chunkSizeBytes int64) []Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	placements := make([]Placement, 0, len(hashes))
	for _, h := range hashes {
		scores := s.scoreDevices(chunkSizeBytes)
		ids, score := selectTop(scores, s.cfg.ReplicationFactor, func(d deviceScore) float64 { return d.storage })
		if len(ids) == 0 {
			s.logger.Warn("no viable device for chunk", "hash", h)
		}
		placements = append(placements, Placement{Key: h, DeviceIDs: ids, Score: score})
	}
	return placements
}

// PlaceShard scores devices by the blended shard score and returns a
// single placement.
func (s *Scheduler) PlaceShard(shardID string, sizeBytes int64) Placement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := s.scoreDevices(sizeBytes)
	ids, score := selectTop(scores, s.cfg.ReplicationFactor, func(d deviceScore) float64 { return d.shard })
	if len(ids) == 0 {
		s.logger.Warn("no viable device for shard", "shard_id", shardID)
	}
	return Placement{Key: shardID, DeviceIDs: ids, Score: score}
}

// GetComputeDevices returns the top count devices by compute score,
// excluding any with a zero score.
func (s *Scheduler) GetComputeDevices(count int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scores := s.scoreDevices(0)
	ids, _ := selectTop(scores, count, func(d deviceScore) float64 { return d.compute })
	return ids
}
