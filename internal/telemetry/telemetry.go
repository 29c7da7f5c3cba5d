// Package telemetry holds the device capability snapshot consumed by
// the placement scheduler.
package telemetry

// Snapshot is a point-in-time summary of a device's capability. It is a
// pure value type: no method here touches disk, the network, or the
// clock.
type Snapshot struct {
	DeviceID           string
	BatteryPercent     float64
	CPULoadPercent     float64
	RAMUsagePercent    float64
	IdlePercent        float64
	LinkQuality        float64
	AvailableStorageMB float64
	IsPluggedIn        bool
	TimestampUnixNano  int64
}

// Weights is the policy knob behind ComputeScore. DefaultWeights
// matches the weighting spec.md §9 calls out explicitly.
type Weights struct {
	Battery float64
	CPU     float64
	RAM     float64
	Idle    float64
	Link    float64
}

func DefaultWeights() Weights {
	return Weights{Battery: 20, CPU: 30, RAM: 20, Idle: 20, Link: 10}
}

// ComputeScore returns a 0-100 figure of how suited a device currently
// is for compute work, using w as the weighting table.
func (s Snapshot) ComputeScore(w Weights) float64 {
	batteryTerm := s.BatteryPercent / 100
	if s.IsPluggedIn {
		batteryTerm = 1
	}
	return w.Battery*batteryTerm +
		w.CPU*(100-s.CPULoadPercent)/100 +
		w.RAM*(100-s.RAMUsagePercent)/100 +
		w.Idle*s.IdlePercent/100 +
		w.Link*s.LinkQuality
}
