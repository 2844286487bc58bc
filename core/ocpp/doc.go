// Package ocpp defines the OCPP 1.6 messages exchanged by the charge point and
// the Client interface used by the dispatch engine to talk to the central
// system. Concrete transports live in infra/ocpp.
package ocpp
