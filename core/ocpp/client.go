package ocpp

import "context"

// Client is the charge point side of an OCPP session. Implementations perform
// the request/response exchange with the central system; the dispatch engine
// and the charger facade only ever see this interface.
type Client interface {
	// BootNotification registers the charge point with the central system.
	BootNotification(ctx context.Context, req BootNotificationRequest) (BootNotificationResponse, error)

	// Heartbeat proves the session is alive.
	Heartbeat(ctx context.Context) (HeartbeatResponse, error)

	// Authorize asks the central system whether an id tag may start a session.
	Authorize(ctx context.Context, req AuthorizeRequest) (AuthorizeResponse, error)

	// StatusNotification reports the status of the charge point (connector 0)
	// or of a single connector.
	StatusNotification(ctx context.Context, req StatusNotificationRequest) error

	// Disconnect closes the session.
	Disconnect(ctx context.Context) error
}
