// Package charger translates physical charger events into state mutations.
// It has no protocol knowledge: the dispatch engine reacts to the resulting
// transitions.
package charger

import (
	"context"
	"errors"

	"github.com/kilianp07/evcharger/core/logger"
	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/state"
)

// ErrNotConnected is returned by commands that need an operational session.
var ErrNotConnected = errors.New("charger is not connected to server")

// Disconnecter closes the session with the central system.
type Disconnecter interface {
	Disconnect(ctx context.Context) error
}

// Charger is the command facade of a charge point.
type Charger struct {
	cfg     model.StationConfig
	store   *state.Store
	session Disconnecter
	log     logger.Logger
}

// New creates a Charger.
func New(cfg model.StationConfig, store *state.Store, session Disconnecter, log logger.Logger) *Charger {
	return &Charger{cfg: cfg, store: store, session: session, log: log}
}

// Config returns the static station description.
func (c *Charger) Config() model.StationConfig { return c.cfg }

// State returns a snapshot of the current charger state.
func (c *Charger) State() model.ChargerState { return c.store.Read() }

// Startup moves the charger to Booting, which triggers the registration
// handshake.
func (c *Charger) Startup() {
	_ = c.store.Update(func(s *model.ChargerState) error {
		*s = model.Booting()
		return nil
	})
	c.log.Infof("booting up charger %s", c.cfg.Identity)
}

// CarConnected marks the outlet as preparing.
func (c *Charger) CarConnected(outletID int) error {
	c.log.Infof("car connected on outlet %d", outletID)
	return c.setOutlet(outletID, model.OutletPreparing)
}

// CarDisconnected marks the outlet as available again.
func (c *Charger) CarDisconnected(outletID int) error {
	c.log.Infof("car disconnected from outlet %d", outletID)
	return c.setOutlet(outletID, model.OutletAvailable)
}

// ReportFault marks the outlet as faulted.
func (c *Charger) ReportFault(outletID int) error {
	c.log.Warnf("fault reported on outlet %d", outletID)
	return c.setOutlet(outletID, model.OutletFaulted)
}

// BlipRFIDTag records a presented tag as pending authorization. Only one tag
// is in flight at a time; a new tag replaces the pending one.
func (c *Charger) BlipRFIDTag(tag string) error {
	c.log.Infof("blipping RFID tag '%s'", tag)
	return c.store.Update(func(s *model.ChargerState) error {
		if !s.IsConnected() {
			return ErrNotConnected
		}
		s.PendingRFIDTag = &tag
		return nil
	})
}

// Disconnect closes the session with the central system. Charger state is
// left untouched.
func (c *Charger) Disconnect(ctx context.Context) error {
	if c.session == nil {
		return nil
	}
	if err := c.session.Disconnect(ctx); err != nil {
		return err
	}
	c.log.Infof("charger disconnected from central system")
	return nil
}

func (c *Charger) setOutlet(id int, st model.OutletState) error {
	return c.store.Update(func(s *model.ChargerState) error {
		if !s.IsConnected() {
			return ErrNotConnected
		}
		if s.Outlets == nil {
			s.Outlets = make(map[int]model.OutletState)
		}
		s.Outlets[id] = st
		return nil
	})
}
