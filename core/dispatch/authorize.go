package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/ocpp"
)

// authorize asks the central system about tag. Only an Accepted verdict
// clears the pending tag, and only if it was not replaced in the meantime.
// Other verdicts leave the tag pending.
func (e *Engine) authorize(ctx context.Context, tag string) {
	start := time.Now()
	resp, err := e.client.Authorize(ctx, ocpp.AuthorizeRequest{IdTag: tag})
	status := string(resp.IdTagInfo.Status)
	e.observe(ocpp.ActionAuthorize, nil, status, err, time.Since(start))
	if err != nil {
		return
	}
	if resp.IdTagInfo.Status != ocpp.AuthorizationStatusAccepted {
		e.logger.Infof("tag %s not authorized: %s", tag, status)
		return
	}
	e.logger.Infof("tag %s authorized", tag)
	_ = e.store.Update(func(s *model.ChargerState) error {
		if s.PendingRFIDTag != nil && *s.PendingRFIDTag == tag {
			s.PendingRFIDTag = nil
		}
		return nil
	})
}
