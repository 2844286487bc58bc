package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// OutletConfig describes one outlet of the station.
type OutletConfig struct {
	ID         int     `json:"id"`
	MaxCurrent float64 `json:"max_current"`
}

// StationConfig is the static description of the charge point. It is
// read-only once loaded and shared by the facade and the dispatch engine.
type StationConfig struct {
	Endpoint          string         `json:"endpoint"`
	Identity          string         `json:"identity"`
	Password          string         `json:"password"`
	SerialNumber      string         `json:"serial_number"`
	Vendor            string         `json:"vendor"`
	Model             string         `json:"model"`
	FirmwareVersion   string         `json:"firmware_version"`
	ICCID             string         `json:"iccid"`
	IMSI              string         `json:"imsi"`
	MeterSerialNumber string         `json:"meter_serial_number"`
	MeterType         string         `json:"meter_type"`
	Outlets           []OutletConfig `json:"outlets"`
}

// DefaultEaseeHome returns the configuration of a single outlet Easee Home box.
func DefaultEaseeHome(endpoint, identity string) StationConfig {
	return StationConfig{
		Endpoint:     endpoint,
		Identity:     identity,
		SerialNumber: identity,
		Vendor:       "easee",
		Model:        "Easee Home",
		Outlets:      []OutletConfig{{ID: 1, MaxCurrent: 32}},
	}
}

// URL returns the central system address for this charge point.
func (c StationConfig) URL() string {
	return strings.TrimSuffix(c.Endpoint, "/") + "/" + c.Identity
}

// OutletIDs returns the configured outlet ids in ascending order.
func (c StationConfig) OutletIDs() []int {
	ids := make([]int, 0, len(c.Outlets))
	for _, o := range c.Outlets {
		ids = append(ids, o.ID)
	}
	sort.Ints(ids)
	return ids
}

// InitialOutletStates returns every configured outlet as available.
func (c StationConfig) InitialOutletStates() map[int]OutletState {
	m := make(map[int]OutletState, len(c.Outlets))
	for _, o := range c.Outlets {
		m[o.ID] = OutletAvailable
	}
	return m
}

// Validate checks mandatory fields.
func (c StationConfig) Validate() error {
	if c.Endpoint == "" {
		return errors.New("station endpoint is required")
	}
	if c.Identity == "" {
		return errors.New("station identity is required")
	}
	if len(c.Outlets) == 0 {
		return errors.New("at least one outlet is required")
	}
	seen := make(map[int]bool, len(c.Outlets))
	for _, o := range c.Outlets {
		if o.ID <= 0 {
			return fmt.Errorf("outlet id %d must be positive", o.ID)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate outlet id %d", o.ID)
		}
		seen[o.ID] = true
		if o.MaxCurrent <= 0 {
			return fmt.Errorf("outlet %d: max_current must be positive", o.ID)
		}
	}
	return nil
}
