package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/ocpp"
)

func (e *Engine) bootRequest() ocpp.BootNotificationRequest {
	s := e.station
	return ocpp.BootNotificationRequest{
		ChargePointVendor:       s.Vendor,
		ChargePointModel:        s.Model,
		ChargePointSerialNumber: s.SerialNumber,
		ChargeBoxSerialNumber:   s.SerialNumber,
		FirmwareVersion:         s.FirmwareVersion,
		Iccid:                   s.ICCID,
		Imsi:                    s.IMSI,
		MeterType:               s.MeterType,
		MeterSerialNumber:       s.MeterSerialNumber,
	}
}

// register sends BootNotification until the central system accepts it. A
// transport failure abandons the attempt and leaves the charger Booting.
func (e *Engine) register(ctx context.Context) {
	req := e.bootRequest()
	for attempt := 1; ; attempt++ {
		start := time.Now()
		resp, err := e.client.BootNotification(ctx, req)
		e.observe(ocpp.ActionBootNotification, nil, string(resp.Status), err, time.Since(start))
		if err != nil {
			bootAttempts.WithLabelValues("error").Inc()
			e.logger.Errorf("registration abandoned after %d attempts: %v", attempt, err)
			return
		}
		bootAttempts.WithLabelValues(string(resp.Status)).Inc()

		if resp.Status == ocpp.RegistrationStatusAccepted {
			e.logger.Infof("registration accepted, heartbeat interval %ds", resp.Interval)
			_ = e.store.Update(func(s *model.ChargerState) error {
				*s = model.Connected(resp.Interval, e.station.InitialOutletStates())
				return nil
			})
			return
		}

		wait := time.Duration(resp.Interval) * time.Second
		if wait <= 0 {
			wait = e.cfg.DefaultRetry()
		}
		e.logger.Infof("registration %s, retrying in %s", resp.Status, wait)
		if err := e.sleep(ctx, wait); err != nil {
			return
		}
	}
}
