package ocpp

import "time"

// Actions used by the charge point.
const (
	ActionBootNotification   = "BootNotification"
	ActionHeartbeat          = "Heartbeat"
	ActionAuthorize          = "Authorize"
	ActionStatusNotification = "StatusNotification"
	ActionGetConfiguration   = "GetConfiguration"
)

// RegistrationStatus is the result of a BootNotification.
type RegistrationStatus string

const (
	RegistrationStatusAccepted RegistrationStatus = "Accepted"
	RegistrationStatusPending  RegistrationStatus = "Pending"
	RegistrationStatusRejected RegistrationStatus = "Rejected"
)

// AuthorizationStatus is the result of an Authorize call.
type AuthorizationStatus string

const (
	AuthorizationStatusAccepted     AuthorizationStatus = "Accepted"
	AuthorizationStatusBlocked      AuthorizationStatus = "Blocked"
	AuthorizationStatusExpired      AuthorizationStatus = "Expired"
	AuthorizationStatusInvalid      AuthorizationStatus = "Invalid"
	AuthorizationStatusConcurrentTx AuthorizationStatus = "ConcurrentTx"
)

// ChargePointStatus is reported in StatusNotification.
type ChargePointStatus string

const (
	ChargePointStatusAvailable     ChargePointStatus = "Available"
	ChargePointStatusPreparing     ChargePointStatus = "Preparing"
	ChargePointStatusCharging      ChargePointStatus = "Charging"
	ChargePointStatusSuspendedEVSE ChargePointStatus = "SuspendedEVSE"
	ChargePointStatusSuspendedEV   ChargePointStatus = "SuspendedEV"
	ChargePointStatusFinishing     ChargePointStatus = "Finishing"
	ChargePointStatusReserved      ChargePointStatus = "Reserved"
	ChargePointStatusUnavailable   ChargePointStatus = "Unavailable"
	ChargePointStatusFaulted       ChargePointStatus = "Faulted"
)

// ChargePointErrorCode accompanies a StatusNotification.
type ChargePointErrorCode string

const (
	NoError       ChargePointErrorCode = "NoError"
	InternalError ChargePointErrorCode = "InternalError"
	OtherError    ChargePointErrorCode = "OtherError"
)

// ChargePointConnector is the connector id addressing the whole charge point.
const ChargePointConnector = 0

type BootNotificationRequest struct {
	ChargePointVendor       string `json:"chargePointVendor"`
	ChargePointModel        string `json:"chargePointModel"`
	ChargePointSerialNumber string `json:"chargePointSerialNumber,omitempty"`
	ChargeBoxSerialNumber   string `json:"chargeBoxSerialNumber,omitempty"`
	FirmwareVersion         string `json:"firmwareVersion,omitempty"`
	Iccid                   string `json:"iccid,omitempty"`
	Imsi                    string `json:"imsi,omitempty"`
	MeterType               string `json:"meterType,omitempty"`
	MeterSerialNumber       string `json:"meterSerialNumber,omitempty"`
}

type BootNotificationResponse struct {
	CurrentTime time.Time          `json:"currentTime"`
	Interval    int                `json:"interval"`
	Status      RegistrationStatus `json:"status"`
}

type HeartbeatRequest struct{}

type HeartbeatResponse struct {
	CurrentTime time.Time `json:"currentTime"`
}

type AuthorizeRequest struct {
	IdTag string `json:"idTag"`
}

// IdTagInfo carries the authorization verdict for an id tag.
type IdTagInfo struct {
	ExpiryDate  *time.Time          `json:"expiryDate,omitempty"`
	ParentIdTag string              `json:"parentIdTag,omitempty"`
	Status      AuthorizationStatus `json:"status"`
}

type AuthorizeResponse struct {
	IdTagInfo IdTagInfo `json:"idTagInfo"`
}

type StatusNotificationRequest struct {
	ConnectorId     int                  `json:"connectorId"`
	ErrorCode       ChargePointErrorCode `json:"errorCode"`
	Info            string               `json:"info,omitempty"`
	Status          ChargePointStatus    `json:"status"`
	Timestamp       *time.Time           `json:"timestamp,omitempty"`
	VendorId        string               `json:"vendorId,omitempty"`
	VendorErrorCode string               `json:"vendorErrorCode,omitempty"`
}

type StatusNotificationResponse struct{}

// GetConfigurationResponse is sent back when the central system asks for the
// charge point configuration.
type GetConfigurationResponse struct {
	ConfigurationKey []KeyValue `json:"configurationKey,omitempty"`
	UnknownKey       []string   `json:"unknownKey,omitempty"`
}

// KeyValue is one configuration entry.
type KeyValue struct {
	Key      string  `json:"key"`
	Readonly bool    `json:"readonly"`
	Value    *string `json:"value,omitempty"`
}
