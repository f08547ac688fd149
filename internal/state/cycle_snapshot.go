package state

import (
	"context"
	"encoding/json"
	"strings"
)

const CycleSnapshotKey = "cycle:last_snapshot"

// PhaseReconciled marks a snapshot written after both accounts were flattened.
const PhaseReconciled = "RECONCILED"

// CycleSnapshot records how far the last hedge cycle got, so a restart can
// tell whether positions may have been left open.
type CycleSnapshot struct {
	Cycle       int64  `json:"cycle"`
	Phase       string `json:"phase"`
	Symbol      string `json:"symbol"`
	Quantity    string `json:"quantity"`
	Price       string `json:"price"`
	LongOpen    bool   `json:"long_open"`
	ShortOpen   bool   `json:"short_open"`
	UpdatedAtMS int64  `json:"updated_at_ms"`
}

// Unfinished reports whether orders may have been sent without the matching
// close being confirmed.
func (s CycleSnapshot) Unfinished() bool {
	switch s.Phase {
	case "OPEN", "HOLD", "CLOSE":
		return true
	}
	return s.LongOpen || s.ShortOpen
}

func LoadCycleSnapshot(ctx context.Context, store Store) (CycleSnapshot, bool, error) {
	if store == nil {
		return CycleSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, CycleSnapshotKey)
	if err != nil {
		return CycleSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return CycleSnapshot{}, false, nil
	}
	var snapshot CycleSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return CycleSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SaveCycleSnapshot(ctx context.Context, store Store, snapshot CycleSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, CycleSnapshotKey, string(payload))
}
