package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/ocpp"
)

func (e *Engine) dispatchConnected(ctx context.Context, tr model.Transition) {
	oldAggregate := model.AggregateStatus(tr.Old.Outlets)
	switch tr.Old.Phase {
	case model.PhaseBooting:
		e.sendSnapshot(ctx, tr.New)
		oldAggregate = ocpp.ChargePointStatusAvailable
	case model.PhaseConnected:
		for _, c := range DiffOutlets(tr.Old.Outlets, tr.New.Outlets) {
			_ = e.sendStatus(ctx, c.ID, c.State.OCPPStatus())
		}
	}

	if agg := model.AggregateStatus(tr.New.Outlets); agg != oldAggregate {
		_ = e.sendStatus(ctx, ocpp.ChargePointConnector, agg)
	}

	if tr.New.PendingRFIDTag != nil && !model.TagEqual(tr.Old.PendingRFIDTag, tr.New.PendingRFIDTag) {
		e.authorize(ctx, *tr.New.PendingRFIDTag)
	}
}

// sendSnapshot announces the charge point and then every configured outlet,
// in id order. The first failure aborts the remaining messages.
func (e *Engine) sendSnapshot(ctx context.Context, st model.ChargerState) {
	if err := e.sendStatus(ctx, ocpp.ChargePointConnector, ocpp.ChargePointStatusAvailable); err != nil {
		return
	}
	for _, id := range e.station.OutletIDs() {
		outlet, ok := st.Outlets[id]
		if !ok {
			outlet = model.OutletAvailable
		}
		if err := e.sendStatus(ctx, id, outlet.OCPPStatus()); err != nil {
			return
		}
	}
}

func (e *Engine) sendStatus(ctx context.Context, connector int, status ocpp.ChargePointStatus) error {
	ts := e.clock().UTC()
	req := ocpp.StatusNotificationRequest{
		ConnectorId: connector,
		ErrorCode:   ocpp.NoError,
		Status:      status,
		Timestamp:   &ts,
	}
	start := time.Now()
	err := e.client.StatusNotification(ctx, req)
	id := connector
	e.observe(ocpp.ActionStatusNotification, &id, string(status), err, time.Since(start))
	return err
}
