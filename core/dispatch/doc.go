// Package dispatch turns charger state transitions into OCPP traffic.
//
// The Engine owns one subscription to the state store. For every transition
// it consumes, in publication order, it may run the registration handshake
// (new state Booting), send StatusNotifications for what changed between two
// operational states, and authorize a freshly presented RFID tag. A second
// loop sends Heartbeats whenever the interval negotiated at boot elapses.
//
// The handshake retry runs inline in the consumer: while the central system
// answers Pending or Rejected, no other transition is processed. Transitions
// published meanwhile wait in the subscription history; if more than its
// depth accumulate the engine resynchronises from a full snapshot.
package dispatch
