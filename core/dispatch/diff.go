package dispatch

import (
	"sort"

	"github.com/kilianp07/evcharger/core/model"
)

// OutletChange is one outlet whose state differs between two snapshots.
type OutletChange struct {
	ID    int
	State model.OutletState
}

// DiffOutlets returns, in ascending id order, the outlets present in both
// maps whose state changed. Ids missing from old are never reported.
func DiffOutlets(old, new map[int]model.OutletState) []OutletChange {
	var out []OutletChange
	for id, st := range new {
		prev, ok := old[id]
		if !ok || prev == st {
			continue
		}
		out = append(out, OutletChange{ID: id, State: st})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
