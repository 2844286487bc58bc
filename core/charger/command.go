package charger

import (
	"errors"
	"fmt"
)

// Command names accepted by Execute.
const (
	CommandStartup         = "startup"
	CommandCarConnected    = "car_connected"
	CommandCarDisconnected = "car_disconnected"
	CommandReportFault     = "report_fault"
	CommandBlipRFID        = "blip_rfid"
)

// ErrUnknownCommand is returned by Execute for unsupported command names.
var ErrUnknownCommand = errors.New("unknown charger command")

// Command is a remote facade invocation, as received over MQTT or HTTP.
type Command struct {
	Name   string `json:"command"`
	Outlet int    `json:"outlet,omitempty"`
	Tag    string `json:"tag,omitempty"`
}

// Validate checks that the command carries the arguments it needs.
func (c Command) Validate() error {
	switch c.Name {
	case CommandStartup:
		return nil
	case CommandCarConnected, CommandCarDisconnected, CommandReportFault:
		if c.Outlet <= 0 {
			return fmt.Errorf("%s: outlet must be positive", c.Name)
		}
		return nil
	case CommandBlipRFID:
		if c.Tag == "" {
			return fmt.Errorf("%s: tag is required", c.Name)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c.Name)
	}
}

// Execute validates cmd and runs the matching facade operation.
func (c *Charger) Execute(cmd Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	switch cmd.Name {
	case CommandStartup:
		c.Startup()
		return nil
	case CommandCarConnected:
		return c.CarConnected(cmd.Outlet)
	case CommandCarDisconnected:
		return c.CarDisconnected(cmd.Outlet)
	case CommandReportFault:
		return c.ReportFault(cmd.Outlet)
	default:
		return c.BlipRFIDTag(cmd.Tag)
	}
}
