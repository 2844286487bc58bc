package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/evcharger/core/metrics"
	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/infra/logger"
)

// InfluxSink writes charger events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordMessage writes one outbound OCPP operation.
func (s *InfluxSink) RecordMessage(ev coremetrics.MessageEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("ocpp_message").
		AddTag("identity", ev.Identity).
		AddTag("action", ev.Action).
		AddTag("success", strconv.FormatBool(ev.Success()))
	if ev.ConnectorID != nil {
		p = p.AddTag("connector_id", strconv.Itoa(*ev.ConnectorID))
	}
	p = p.AddField("latency_ms", round3(ev.Latency.Seconds()*1000))
	if ev.Status != "" {
		p = p.AddField("status", ev.Status)
	}
	if ev.Err != nil {
		p = p.AddField("error", ev.Err.Error())
	}
	p = p.SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes the new state of a transition.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := ev.Transition.New
	counts := map[model.OutletState]int{}
	for _, o := range st.Outlets {
		counts[o]++
	}
	p := write.NewPointWithMeasurement("charger_transition").
		AddTag("identity", ev.Identity).
		AddTag("old_phase", ev.Transition.Old.Phase.String()).
		AddTag("phase", st.Phase.String()).
		AddField("outlets_available", counts[model.OutletAvailable]).
		AddField("outlets_preparing", counts[model.OutletPreparing]).
		AddField("outlets_faulted", counts[model.OutletFaulted]).
		AddField("tag_pending", st.PendingRFIDTag != nil).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
