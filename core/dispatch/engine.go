package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/logger"
	"github.com/kilianp07/evcharger/core/metrics"
	"github.com/kilianp07/evcharger/core/model"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
	"github.com/kilianp07/evcharger/core/ocpp"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/internal/eventbus"
)

// Engine reacts to charger state transitions by driving the OCPP session.
type Engine struct {
	station model.StationConfig
	cfg     Config
	store   *state.Store
	client  ocpp.Client
	rx      *eventbus.Receiver[model.Transition]
	logger  logger.Logger

	mu      sync.Mutex
	metrics metrics.MetricsSink
	journal logging.Journal
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error

	// last is the newest state the consumer has processed. Only the consumer
	// goroutine touches it.
	last model.ChargerState

	hbMu          sync.Mutex
	lastHeartbeat time.Time
}

// NewEngine subscribes to the store right away so that no transition
// published after construction is missed, even before Run starts.
func NewEngine(station model.StationConfig, cfg Config, store *state.Store, client ocpp.Client, log logger.Logger) *Engine {
	cfg.SetDefaults()
	e := &Engine{
		station: station,
		cfg:     cfg,
		store:   store,
		client:  client,
		logger:  log,
		metrics: metrics.NopSink{},
		journal: logging.NopJournal{},
		now:     time.Now,
		sleep:   sleepCtx,
	}
	e.rx = store.Subscribe()
	e.last = store.Resync(e.rx)
	e.lastHeartbeat = e.now()
	return e
}

// SetMetricsSink configures where outbound operations and transitions are recorded.
func (e *Engine) SetMetricsSink(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	e.mu.Lock()
	e.metrics = sink
	e.mu.Unlock()
}

// SetJournal configures the audit journal.
func (e *Engine) SetJournal(j logging.Journal) {
	if j == nil {
		j = logging.NopJournal{}
	}
	e.mu.Lock()
	e.journal = j
	e.mu.Unlock()
}

// SetClock replaces the time source and restarts the heartbeat timer from it.
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	e.hbMu.Lock()
	e.lastHeartbeat = now()
	e.hbMu.Unlock()
}

// LastHeartbeat returns the time of the last successful Heartbeat, or of the
// engine construction when none succeeded yet.
func (e *Engine) LastHeartbeat() time.Time {
	e.hbMu.Lock()
	defer e.hbMu.Unlock()
	return e.lastHeartbeat
}

// Run consumes transitions and ticks the heartbeat loop until ctx is
// canceled or the store is closed.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer coremon.Recover()
		e.heartbeatLoop(ctx)
	}()
	err := e.consume(ctx)
	cancel()
	wg.Wait()
	return err
}

func (e *Engine) consume(ctx context.Context) error {
	for {
		tr, err := e.rx.Recv(ctx)
		var lag *eventbus.LaggedError
		switch {
		case err == nil:
			e.handle(ctx, tr)
		case errors.As(err, &lag):
			e.resync(ctx, lag.Missed)
		case errors.Is(err, eventbus.ErrClosed), ctx.Err() != nil:
			return nil
		default:
			return err
		}
	}
}

// resync recovers from a lagged subscription by diffing the last processed
// state against a fresh snapshot.
func (e *Engine) resync(ctx context.Context, missed uint64) {
	transitionLag.Inc()
	e.logger.Warnf("dispatch lagged behind by %d transitions, resynchronising", missed)
	snap := e.store.Resync(e.rx)
	old := e.last
	if !old.IsConnected() && snap.IsConnected() {
		// The Booting to Connected step was among the missed ones; replay it
		// so the initial status snapshot is still sent.
		old = model.Booting()
	}
	if old.Equal(snap) {
		e.last = snap
		return
	}
	e.handle(ctx, model.Transition{Old: old, New: snap})
}

func (e *Engine) handle(ctx context.Context, tr model.Transition) {
	transitionsTotal.WithLabelValues(tr.New.Phase.String()).Inc()
	e.recordTransition(tr)
	e.logger.Debugw("transition", map[string]any{"old": tr.Old.String(), "new": tr.New.String()})

	switch tr.New.Phase {
	case model.PhaseBooting:
		e.register(ctx)
	case model.PhaseConnected:
		e.dispatchConnected(ctx, tr)
	}
	e.last = tr.New
}

func (e *Engine) clock() time.Time {
	e.mu.Lock()
	now := e.now
	e.mu.Unlock()
	return now()
}

func (e *Engine) sinks() (metrics.MetricsSink, logging.Journal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metrics, e.journal
}

func (e *Engine) recordTransition(tr model.Transition) {
	sink, journal := e.sinks()
	now := e.clock()
	if rec, ok := sink.(metrics.TransitionRecorder); ok {
		if err := rec.RecordTransition(metrics.TransitionEvent{Identity: e.station.Identity, Transition: tr, Time: now}); err != nil {
			e.logger.Warnf("record transition: %v", err)
		}
	}
	t := tr
	if err := journal.Append(context.Background(), logging.Record{Timestamp: now, Identity: e.station.Identity, Kind: logging.KindTransition, Transition: &t}); err != nil {
		e.logger.Warnf("journal transition: %v", err)
	}
}

// observe records the outcome of one outbound OCPP operation. Failures are
// logged and reported, never propagated further than the calling step.
func (e *Engine) observe(action string, connector *int, status string, err error, latency time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ocppMessages.WithLabelValues(action, result).Inc()
	ocppRequestLatency.WithLabelValues(action).Observe(latency.Seconds())

	sink, journal := e.sinks()
	now := e.clock()
	if rerr := sink.RecordMessage(metrics.MessageEvent{
		Identity:    e.station.Identity,
		Action:      action,
		ConnectorID: connector,
		Status:      status,
		Err:         err,
		Latency:     latency,
		Time:        now,
	}); rerr != nil {
		e.logger.Warnf("record message: %v", rerr)
	}
	msg := &logging.Message{Action: action, ConnectorID: connector, Status: status, LatencyMS: latency.Milliseconds()}
	if err != nil {
		msg.Error = err.Error()
	}
	if jerr := journal.Append(context.Background(), logging.Record{Timestamp: now, Identity: e.station.Identity, Kind: logging.KindMessage, Message: msg}); jerr != nil {
		e.logger.Warnf("journal message: %v", jerr)
	}

	if err != nil {
		e.logger.Warnf("%s failed: %v", action, err)
		coremon.CaptureException(err, map[string]string{
			"module":   "dispatch",
			"action":   action,
			"identity": e.station.Identity,
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
