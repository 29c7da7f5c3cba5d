package scheduler

import (
	"testing"

	"github.com/meshweave/corestore/internal/telemetry"
)

func TestStorageScoreCapacityGate(t *testing.T) {
	tests := []struct {
		name      string
		snap      telemetry.Snapshot
		sizeBytes int64
		wantZero  bool
	}{
		{"below capacity", telemetry.Snapshot{AvailableStorageMB: 10}, 50 * (1 << 20), true},
		{"exactly enough", telemetry.Snapshot{AvailableStorageMB: 50, IsPluggedIn: true}, 50 * (1 << 20), false},
		{"ample capacity", telemetry.Snapshot{AvailableStorageMB: 10000, IsPluggedIn: true}, 1024, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := storageScore(tt.snap, tt.sizeBytes)
			if tt.wantZero && got != 0 {
				t.Errorf("storageScore() = %v, want 0", got)
			}
			if !tt.wantZero && got == 0 {
				t.Errorf("storageScore() = 0, want nonzero")
			}
		})
	}
}

func TestPlaceChunksExcludesInsufficientCapacity(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.UpdateTelemetry(telemetry.Snapshot{DeviceID: "small", AvailableStorageMB: 10})
	s.UpdateTelemetry(telemetry.Snapshot{DeviceID: "big", AvailableStorageMB: 10000, IsPluggedIn: true, LinkQuality: 1})

	placements := s.PlaceChunks([]string{"h1"}, 50*(1<<20))
	if len(placements) != 1 {
		t.Fatalf("expected 1 placement, got %d", len(placements))
	}
	for _, id := range placements[0].DeviceIDs {
		if id == "small" {
			t.Errorf("device below capacity gate appeared in placement")
		}
	}
}

func TestPlaceChunksCardinality(t *testing.T) {
	cfg := Config{ReplicationFactor: 2}
	s := New(cfg, nil)
	for _, id := range []string{"d1", "d2", "d3"} {
		s.UpdateTelemetry(telemetry.Snapshot{DeviceID: id, AvailableStorageMB: 10000, IsPluggedIn: true, LinkQuality: 1})
	}

	placements := s.PlaceChunks([]string{"h1"}, 1024)
	if len(placements[0].DeviceIDs) != 2 {
		t.Fatalf("expected cardinality 2, got %d", len(placements[0].DeviceIDs))
	}
}

func TestPlaceChunksEmptyWhenNoViableDevice(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.UpdateTelemetry(telemetry.Snapshot{DeviceID: "tiny", AvailableStorageMB: 1})

	placements := s.PlaceChunks([]string{"h1"}, 50*(1<<20))
	if len(placements[0].DeviceIDs) != 0 || placements[0].Score != 0 {
		t.Fatalf("expected empty placement with score 0, got %+v", placements[0])
	}
}

func TestPlaceShardRanking(t *testing.T) {
	// Mirrors scenario S4: a plugged-in, low-load device should
	// outrank a battery-powered, loaded device with far less storage.
	s := New(Config{ReplicationFactor: 1}, nil)
	s.UpdateTelemetry(telemetry.Snapshot{
		DeviceID: "d1", AvailableStorageMB: 10000, IsPluggedIn: true,
		CPULoadPercent: 10, LinkQuality: 1,
	})
	s.UpdateTelemetry(telemetry.Snapshot{
		DeviceID: "d2", AvailableStorageMB: 100, BatteryPercent: 20,
		CPULoadPercent: 80, LinkQuality: 0.2,
	})

	placement := s.PlaceShard("shard1", 50*(1<<20))
	if len(placement.DeviceIDs) != 1 || placement.DeviceIDs[0] != "d1" {
		t.Fatalf("expected d1 to win placement, got %+v", placement)
	}
}

func TestGetComputeDevicesExcludesZeroScore(t *testing.T) {
	s := New(DefaultConfig(), nil)
	s.UpdateTelemetry(telemetry.Snapshot{DeviceID: "active", IsPluggedIn: true, LinkQuality: 1, IdlePercent: 100})
	s.UpdateTelemetry(telemetry.Snapshot{DeviceID: "dead", CPULoadPercent: 100, RAMUsagePercent: 100})

	devices := s.GetComputeDevices(5)
	if len(devices) != 1 || devices[0] != "active" {
		t.Fatalf("expected only [active], got %v", devices)
	}
}
