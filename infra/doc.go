// Package infra contains the adapters of the charger: the OCPP-J WebSocket
// client, the MQTT bridge, metrics sinks, logging and error reporting. These
// packages depend only on the interfaces defined in the core packages.
package infra
