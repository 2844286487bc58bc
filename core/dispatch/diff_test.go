package dispatch

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kilianp07/evcharger/core/model"
)

func TestDiffOutlets(t *testing.T) {
	a, p, f := model.OutletAvailable, model.OutletPreparing, model.OutletFaulted
	tests := []struct {
		name string
		old  map[int]model.OutletState
		new  map[int]model.OutletState
		want []OutletChange
	}{
		{name: "unchanged", old: map[int]model.OutletState{1: a}, new: map[int]model.OutletState{1: a}},
		{name: "single change", old: map[int]model.OutletState{1: a, 2: a}, new: map[int]model.OutletState{1: p, 2: a}, want: []OutletChange{{ID: 1, State: p}}},
		{name: "sorted", old: map[int]model.OutletState{3: a, 1: a, 2: a}, new: map[int]model.OutletState{3: f, 1: p, 2: a}, want: []OutletChange{{ID: 1, State: p}, {ID: 3, State: f}}},
		{name: "new id ignored", old: map[int]model.OutletState{1: a}, new: map[int]model.OutletState{1: a, 9: p}},
		{name: "removed id ignored", old: map[int]model.OutletState{1: a, 2: a}, new: map[int]model.OutletState{1: a}},
		{name: "nil old", old: nil, new: map[int]model.OutletState{1: p}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DiffOutlets(tt.old, tt.new))
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.NoError(t, c.Validate())
	assert.Equal(t, 1000, c.HeartbeatTickMS)
	assert.Equal(t, 16, c.HistoryDepth)
	assert.Equal(t, 10, c.DefaultRetrySeconds)
	assert.Error(t, Config{HeartbeatTickMS: -1, HistoryDepth: 1, DefaultRetrySeconds: 1}.Validate())
}
