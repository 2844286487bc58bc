package model

import (
	"encoding/json"
	"fmt"
	"maps"
	"sort"

	"github.com/kilianp07/evcharger/core/ocpp"
)

// Phase selects which ChargerState variant is active.
type Phase int

const (
	// PhaseShutdown is the initial idle state.
	PhaseShutdown Phase = iota
	// PhaseBooting means the registration handshake is in progress.
	PhaseBooting
	// PhaseConnected is the operational state.
	PhaseConnected
	// PhaseMaintenance is the out-of-service state.
	PhaseMaintenance
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseShutdown:
		return "Shutdown"
	case PhaseBooting:
		return "Booting"
	case PhaseConnected:
		return "Connected"
	case PhaseMaintenance:
		return "Maintenance"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, c := range []Phase{PhaseShutdown, PhaseBooting, PhaseConnected, PhaseMaintenance} {
		if c.String() == string(b) {
			*p = c
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", string(b))
}

// OutletState is the state of a single outlet.
type OutletState int

const (
	OutletAvailable OutletState = iota
	OutletPreparing
	OutletFaulted
)

// String returns a human-readable representation of the outlet state.
func (s OutletState) String() string {
	switch s {
	case OutletAvailable:
		return "Available"
	case OutletPreparing:
		return "Preparing"
	case OutletFaulted:
		return "Faulted"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outlet state by name.
func (s OutletState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes an outlet state name.
func (s *OutletState) UnmarshalText(b []byte) error {
	for _, c := range []OutletState{OutletAvailable, OutletPreparing, OutletFaulted} {
		if c.String() == string(b) {
			*s = c
			return nil
		}
	}
	return fmt.Errorf("unknown outlet state %q", string(b))
}

// OCPPStatus maps the outlet state onto the OCPP 1.6 connector status.
func (s OutletState) OCPPStatus() ocpp.ChargePointStatus {
	switch s {
	case OutletPreparing:
		return ocpp.ChargePointStatusPreparing
	case OutletFaulted:
		return ocpp.ChargePointStatusFaulted
	default:
		return ocpp.ChargePointStatusAvailable
	}
}

// ChargerState is the canonical state of a charger. Phase selects the active
// variant; HeartbeatInterval, Outlets and PendingRFIDTag are only populated
// while the phase is PhaseConnected.
type ChargerState struct {
	Phase Phase `json:"phase"`
	// HeartbeatInterval is expressed in seconds.
	HeartbeatInterval int                 `json:"heartbeat_interval,omitempty"`
	Outlets           map[int]OutletState `json:"outlets,omitempty"`
	PendingRFIDTag    *string             `json:"pending_rfid_tag,omitempty"`
}

// Shutdown returns the initial state.
func Shutdown() ChargerState { return ChargerState{Phase: PhaseShutdown} }

// Booting returns the handshake-in-progress state.
func Booting() ChargerState { return ChargerState{Phase: PhaseBooting} }

// Maintenance returns the out-of-service state.
func Maintenance() ChargerState { return ChargerState{Phase: PhaseMaintenance} }

// Connected returns an operational state with no pending tag. The outlet map
// is copied.
func Connected(heartbeatInterval int, outlets map[int]OutletState) ChargerState {
	return ChargerState{
		Phase:             PhaseConnected,
		HeartbeatInterval: heartbeatInterval,
		Outlets:           cloneOutlets(outlets),
	}
}

// IsConnected reports whether the operational variant is active.
func (s ChargerState) IsConnected() bool { return s.Phase == PhaseConnected }

// Clone returns a deep copy sharing no memory with s.
func (s ChargerState) Clone() ChargerState {
	c := s
	c.Outlets = cloneOutlets(s.Outlets)
	if s.PendingRFIDTag != nil {
		tag := *s.PendingRFIDTag
		c.PendingRFIDTag = &tag
	}
	return c
}

// Equal compares two states structurally.
func (s ChargerState) Equal(o ChargerState) bool {
	if s.Phase != o.Phase || s.HeartbeatInterval != o.HeartbeatInterval {
		return false
	}
	if !maps.Equal(s.Outlets, o.Outlets) {
		return false
	}
	return TagEqual(s.PendingRFIDTag, o.PendingRFIDTag)
}

// OutletIDs returns the outlet ids in ascending order.
func (s ChargerState) OutletIDs() []int {
	ids := make([]int, 0, len(s.Outlets))
	for id := range s.Outlets {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// ChargePointStatus returns the charge point level OCPP status: Faulted if any
// outlet is faulted, Available otherwise. Non-operational phases report
// Unavailable.
func (s ChargerState) ChargePointStatus() ocpp.ChargePointStatus {
	if s.Phase != PhaseConnected {
		return ocpp.ChargePointStatusUnavailable
	}
	return AggregateStatus(s.Outlets)
}

// String renders the state for logs.
func (s ChargerState) String() string {
	b, err := json.Marshal(s)
	if err != nil {
		return s.Phase.String()
	}
	return string(b)
}

// AggregateStatus computes the charge point status of an outlet map.
func AggregateStatus(outlets map[int]OutletState) ocpp.ChargePointStatus {
	for _, st := range outlets {
		if st == OutletFaulted {
			return ocpp.ChargePointStatusFaulted
		}
	}
	return ocpp.ChargePointStatusAvailable
}

// TagEqual compares two optional tags.
func TagEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneOutlets(m map[int]OutletState) map[int]OutletState {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}
