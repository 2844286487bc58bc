// Package ocpp implements the charge point side of OCPP-J 1.6 over a
// WebSocket connection, plus an in-memory MockClient for tests. Both satisfy
// core/ocpp.Client.
package ocpp
