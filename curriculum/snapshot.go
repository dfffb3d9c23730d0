package curriculum

import (
	"encoding/json"
	"fmt"
)

// SnapshotVersion is bumped when the Snapshot layout changes incompatibly.
const SnapshotVersion = 1

// Snapshot is the persisted controller state. It is saved and restored as one
// unit: the value table, the cost windows, the current state id and the step
// counter that decides WARMUP vs ACTIVE.
type Snapshot struct {
	Version        int         `json:"version"`
	Step           int64       `json:"step"`
	ActivationStep int64       `json:"activation_step"`
	State          int         `json:"state"`
	StateReady     bool        `json:"state_ready"`
	NumPhases      int         `json:"num_phases"`
	Epsilon        float64     `json:"epsilon"`
	QTable         [][]float64 `json:"q_table"`
	CostWindows    [][]float64 `json:"cost_windows"`
}

// MarshalSnapshot encodes a snapshot as JSON.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot and checks its version.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return Snapshot{}, configErrorf("snapshot", "unsupported version %d (want %d)", s.Version, SnapshotVersion)
	}
	return s, nil
}
