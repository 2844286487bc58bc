package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/evcharger/core/charger"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/metrics"
	"github.com/kilianp07/evcharger/core/model"
	coremon "github.com/kilianp07/evcharger/core/monitoring"
	"github.com/kilianp07/evcharger/core/ocpp"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/infra/logger"
	ocppmock "github.com/kilianp07/evcharger/infra/ocpp"
)

const waitFor = 2 * time.Second

func testStation() model.StationConfig {
	return model.StationConfig{
		Endpoint:     "ws://central.test/ocpp",
		Identity:     "EH000001",
		SerialNumber: "EH000001",
		Vendor:       "easee",
		Model:        "Easee Home",
		Outlets:      []model.OutletConfig{{ID: 2, MaxCurrent: 32}, {ID: 1, MaxCurrent: 32}},
	}
}

type harness struct {
	engine  *Engine
	store   *state.Store
	charger *charger.Charger
	client  *ocppmock.MockClient

	mu     sync.Mutex
	sleeps []time.Duration
}

func (h *harness) slept() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}

// newHarness builds an engine over a mock central system. The heartbeat tick
// is long enough to stay out of the way; heartbeat tests drive ticks directly.
func newHarness(t *testing.T, client *ocppmock.MockClient) *harness {
	t.Helper()
	store := state.New()
	h := &harness{store: store, client: client}
	h.engine = NewEngine(testStation(), Config{HeartbeatTickMS: int(time.Hour / time.Millisecond)}, store, client, logger.NopLogger{})
	h.engine.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	h.charger = charger.New(testStation(), store, client, logger.NopLogger{})
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(waitFor):
			t.Error("engine did not stop")
		}
	})
}

func (h *harness) waitStatuses(t *testing.T, n int) []ocpp.StatusNotificationRequest {
	t.Helper()
	ok := h.client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Statuses()) >= n }, waitFor)
	require.True(t, ok, "expected %d status notifications, got %d", n, len(h.client.Statuses()))
	return h.client.Statuses()
}

// quiet asserts no further request reaches the central system.
func (h *harness) quiet(t *testing.T) {
	t.Helper()
	before := h.client.Total()
	changed := h.client.WaitFor(func(m *ocppmock.MockClient) bool { return m.Total() != before }, 50*time.Millisecond)
	assert.False(t, changed, "unexpected request to central system")
}

// connect boots the charger and waits for the initial status snapshot.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.charger.Startup()
	h.waitStatuses(t, 3)
	require.Eventually(t, func() bool { return h.store.Read().IsConnected() }, waitFor, time.Millisecond)
}

func status(connector int, st ocpp.ChargePointStatus) [2]any {
	return [2]any{connector, st}
}

func statusPairs(reqs []ocpp.StatusNotificationRequest) [][2]any {
	out := make([][2]any, len(reqs))
	for i, r := range reqs {
		out[i] = status(r.ConnectorId, r.Status)
	}
	return out
}

func TestStartupPublishesSingleTransition(t *testing.T) {
	store := state.New()
	rx := store.Subscribe()
	c := charger.New(testStation(), store, nil, logger.NopLogger{})
	c.Startup()

	tr, err := rx.Recv(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Shutdown(), tr.Old)
	assert.Equal(t, model.Booting(), tr.New)
	assert.Zero(t, rx.Pending())
}

func TestBootAcceptedSendsInitialSnapshot(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)
	h.connect(t)

	want := model.Connected(30, map[int]model.OutletState{1: model.OutletAvailable, 2: model.OutletAvailable})
	assert.True(t, want.Equal(h.store.Read()), "got %s", h.store.Read())
	assert.Equal(t, [][2]any{
		status(0, ocpp.ChargePointStatusAvailable),
		status(1, ocpp.ChargePointStatusAvailable),
		status(2, ocpp.ChargePointStatusAvailable),
	}, statusPairs(h.client.Statuses()))
	for _, s := range h.client.Statuses() {
		assert.Equal(t, ocpp.NoError, s.ErrorCode)
		assert.NotNil(t, s.Timestamp)
	}
	h.quiet(t)

	boots := h.client.Boots()
	require.Len(t, boots, 1)
	assert.Equal(t, "easee", boots[0].ChargePointVendor)
	assert.Equal(t, "EH000001", boots[0].ChargeBoxSerialNumber)
	assert.Equal(t, "EH000001", boots[0].ChargePointSerialNumber)
}

func TestCarConnectedSendsOutletStatus(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)
	h.connect(t)

	require.NoError(t, h.charger.CarConnected(1))
	got := h.waitStatuses(t, 4)
	assert.Equal(t, status(1, ocpp.ChargePointStatusPreparing), statusPairs(got)[3])
	h.quiet(t)
	assert.Len(t, h.client.Statuses(), 4)
}

func TestFaultTogglesChargePointStatus(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)
	h.connect(t)

	require.NoError(t, h.charger.ReportFault(2))
	got := h.waitStatuses(t, 5)
	assert.Equal(t, [][2]any{
		status(2, ocpp.ChargePointStatusFaulted),
		status(0, ocpp.ChargePointStatusFaulted),
	}, statusPairs(got)[3:])

	require.NoError(t, h.charger.CarDisconnected(2))
	got = h.waitStatuses(t, 7)
	assert.Equal(t, [][2]any{
		status(2, ocpp.ChargePointStatusAvailable),
		status(0, ocpp.ChargePointStatusAvailable),
	}, statusPairs(got)[5:])
	h.quiet(t)
}

func TestNewOutletIsNotAnnounced(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)
	h.connect(t)

	require.NoError(t, h.charger.CarConnected(7))
	h.quiet(t)
	assert.Len(t, h.client.Statuses(), 3)
}

func TestRFIDTagAuthorizedAndCleared(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)
	h.connect(t)

	require.NoError(t, h.charger.BlipRFIDTag("abc"))
	require.Eventually(t, func() bool {
		st := h.store.Read()
		return st.IsConnected() && st.PendingRFIDTag == nil && len(h.client.Authorizes()) == 1
	}, waitFor, time.Millisecond)
	h.quiet(t)
	assert.Equal(t, []string{"abc"}, h.client.Authorizes())
	assert.Len(t, h.client.Statuses(), 3)
}

func TestRFIDTagRejectedStaysPending(t *testing.T) {
	client := ocppmock.NewMockClient()
	client.AuthorizeStatus = map[string]ocpp.AuthorizationStatus{"bad": ocpp.AuthorizationStatusInvalid}
	h := newHarness(t, client)
	h.run(t)
	h.connect(t)

	require.NoError(t, h.charger.BlipRFIDTag("bad"))
	require.True(t, client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Authorizes()) == 1 }, waitFor))
	h.quiet(t)
	tag := h.store.Read().PendingRFIDTag
	require.NotNil(t, tag)
	assert.Equal(t, "bad", *tag)

	// Presenting the same tag again is not a change.
	require.NoError(t, h.charger.BlipRFIDTag("bad"))
	h.quiet(t)
	assert.Len(t, client.Authorizes(), 1)
}

func TestCommandWhileShutdownSendsNothing(t *testing.T) {
	h := newHarness(t, ocppmock.NewMockClient())
	h.run(t)

	err := h.charger.CarConnected(1)
	assert.ErrorIs(t, err, charger.ErrNotConnected)
	assert.Equal(t, model.Shutdown(), h.store.Read())
	h.quiet(t)
	assert.Zero(t, h.client.Total())
}

func TestBootRetriesUntilAccepted(t *testing.T) {
	client := ocppmock.NewMockClient()
	client.BootResponses = []ocpp.BootNotificationResponse{
		{Status: ocpp.RegistrationStatusPending, Interval: 7},
		{Status: ocpp.RegistrationStatusRejected, Interval: 0},
		{Status: ocpp.RegistrationStatusAccepted, Interval: 60},
	}
	h := newHarness(t, client)
	h.run(t)
	h.connect(t)

	assert.Len(t, client.Boots(), 3)
	assert.Equal(t, []time.Duration{7 * time.Second, 10 * time.Second}, h.slept())
	assert.Equal(t, 60, h.store.Read().HeartbeatInterval)
}

func TestBootTransportFailureAbandons(t *testing.T) {
	client := ocppmock.NewMockClient()
	client.BootErr = errors.New("connection reset")
	h := newHarness(t, client)
	h.run(t)

	h.charger.Startup()
	require.True(t, client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Boots()) == 1 }, waitFor))
	h.quiet(t)
	assert.Equal(t, model.Booting(), h.store.Read())
	assert.Empty(t, h.slept())
}

func TestSnapshotAbortsOnFirstFailure(t *testing.T) {
	client := ocppmock.NewMockClient()
	client.StatusErrAt = 2
	client.StatusErr = errors.New("write: broken pipe")
	h := newHarness(t, client)
	h.run(t)

	h.charger.Startup()
	h.waitStatuses(t, 2)
	h.quiet(t)
	assert.Len(t, client.Statuses(), 2)
	assert.True(t, h.store.Read().IsConnected())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := state.New()
	e := NewEngine(testStation(), Config{HeartbeatTickMS: 5}, store, ocppmock.NewMockClient(), logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunStopsWhenStoreCloses(t *testing.T) {
	store := state.New()
	e := NewEngine(testStation(), Config{}, store, ocppmock.NewMockClient(), logger.NopLogger{})
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()
	store.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after store close")
	}
}

func TestBootWaitIsCancelable(t *testing.T) {
	client := ocppmock.NewMockClient()
	client.BootResponses = []ocpp.BootNotificationResponse{{Status: ocpp.RegistrationStatusPending, Interval: 3600}}
	store := state.New()
	e := NewEngine(testStation(), Config{}, store, client, logger.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.NoError(t, store.Update(func(s *model.ChargerState) error {
		*s = model.Booting()
		return nil
	}))
	require.True(t, client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Boots()) == 1 }, waitFor))
	cancel()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("handshake wait ignored cancellation")
	}
	assert.Equal(t, model.Booting(), store.Read())
}

func TestLaggedEngineResynchronises(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })

	client := ocppmock.NewMockClient()
	store := state.NewWithDepth(1)
	e := NewEngine(testStation(), Config{HeartbeatTickMS: int(time.Hour / time.Millisecond)}, store, client, logger.NopLogger{})

	// Three transitions before the engine runs: the subscription only keeps one.
	require.NoError(t, store.Update(func(s *model.ChargerState) error {
		*s = model.Connected(30, map[int]model.OutletState{1: model.OutletAvailable, 2: model.OutletAvailable})
		return nil
	}))
	for _, id := range []int{1, 2} {
		require.NoError(t, store.Update(func(s *model.ChargerState) error {
			s.Outlets[id] = model.OutletPreparing
			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.True(t, client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Statuses()) >= 3 }, waitFor))
	assert.Equal(t, [][2]any{
		status(0, ocpp.ChargePointStatusAvailable),
		status(1, ocpp.ChargePointStatusPreparing),
		status(2, ocpp.ChargePointStatusPreparing),
	}, statusPairs(client.Statuses()))
	assert.Equal(t, 1.0, testutil.ToFloat64(transitionLag))
}

type recordingSink struct {
	mu          sync.Mutex
	messages    []metrics.MessageEvent
	transitions []metrics.TransitionEvent
}

func (r *recordingSink) RecordMessage(ev metrics.MessageEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, ev)
	return nil
}

func (r *recordingSink) RecordTransition(ev metrics.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, ev)
	return nil
}

func TestEngineRecordsMetricsAndJournal(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })

	h := newHarness(t, ocppmock.NewMockClient())
	sink := &recordingSink{}
	h.engine.SetMetricsSink(sink)
	journal, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "journal.jsonl"))
	require.NoError(t, err)
	h.engine.SetJournal(journal)
	h.run(t)
	h.connect(t)
	h.quiet(t)

	assert.Equal(t, 3.0, testutil.ToFloat64(ocppMessages.WithLabelValues(ocpp.ActionStatusNotification, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(bootAttempts.WithLabelValues(string(ocpp.RegistrationStatusAccepted))))
	assert.Equal(t, 1.0, testutil.ToFloat64(transitionsTotal.WithLabelValues("Connected")))

	sink.mu.Lock()
	assert.Len(t, sink.messages, 4)
	assert.Len(t, sink.transitions, 2)
	assert.Equal(t, "EH000001", sink.messages[0].Identity)
	sink.mu.Unlock()

	recs, err := journal.Query(context.Background(), logging.Query{Action: ocpp.ActionStatusNotification})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
	recs, err = journal.Query(context.Background(), logging.Query{Kind: logging.KindTransition})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.PhaseBooting, recs[0].Transition.New.Phase)
}

func TestMetricsRegistration(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	reg := prometheus.NewRegistry()
	MustRegisterMetrics(reg)
	ocppMessages.WithLabelValues("Heartbeat", "ok").Inc()
	ocppRequestLatency.WithLabelValues("Heartbeat").Observe(0.1)
	bootAttempts.WithLabelValues("Accepted").Inc()
	transitionsTotal.WithLabelValues("Booting").Inc()
	transitionLag.Inc()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, n := range []string{
		"ocpp_messages_total",
		"ocpp_request_latency_seconds",
		"ocpp_boot_attempts_total",
		"charger_transitions_total",
		"charger_transition_lag_total",
	} {
		assert.True(t, names[n], "metric %s not registered", n)
	}
}

type recordMonitor struct {
	mu   sync.Mutex
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) CapturePanic(any)    {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestProtocolFailureCaptured(t *testing.T) {
	mon := &recordMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	client := ocppmock.NewMockClient()
	client.AuthorizeErr = errors.New("timeout")
	h := newHarness(t, client)
	h.run(t)
	h.connect(t)
	require.NoError(t, h.charger.BlipRFIDTag("abc"))
	require.True(t, client.WaitFor(func(m *ocppmock.MockClient) bool { return len(m.Authorizes()) == 1 }, waitFor))

	require.Eventually(t, func() bool {
		mon.mu.Lock()
		defer mon.mu.Unlock()
		return mon.err != nil
	}, waitFor, time.Millisecond)
	mon.mu.Lock()
	defer mon.mu.Unlock()
	assert.Equal(t, "dispatch", mon.tags["module"])
	assert.Equal(t, ocpp.ActionAuthorize, mon.tags["action"])
	assert.NotNil(t, h.store.Read().PendingRFIDTag)
}
