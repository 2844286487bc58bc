package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apicharger "github.com/kilianp07/evcharger/api/charger"
	"github.com/kilianp07/evcharger/config"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/factory"
	"github.com/kilianp07/evcharger/core/model"
	infraocpp "github.com/kilianp07/evcharger/infra/ocpp"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Station: model.DefaultEaseeHome("ws://localhost:9000/ocpp", "CP-APP"),
		Journal: logging.Config{Backend: "jsonl", Path: filepath.Join(t.TempDir(), "journal.log")},
	}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestServiceBootsAndServesAPI(t *testing.T) {
	cfg := testConfig(t)
	client := infraocpp.NewMockClient()
	svc, err := NewWithClient(cfg, client)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	// Charge point status then one status per outlet.
	require.True(t, client.WaitFor(func(m *infraocpp.MockClient) bool { return len(m.Statuses()) == 2 }, 2*time.Second))
	assert.Len(t, client.Boots(), 1)
	assert.Equal(t, model.PhaseConnected, svc.Store.Read().Phase)

	h := svc.Handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/charger/commands", bytes.NewBufferString(`{"command":"car_connected","outlet":1}`)))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.True(t, client.WaitFor(func(m *infraocpp.MockClient) bool { return len(m.Statuses()) == 4 }, 2*time.Second))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/state", nil))
	var st apicharger.StateResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &st))
	assert.Equal(t, "CP-APP", st.Identity)
	assert.Equal(t, model.OutletPreparing, st.State.Outlets[1])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop")
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/journal?kind=message&action=BootNotification", nil))
	var recs []logging.Record
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	assert.Len(t, recs, 1)

	require.NoError(t, svc.Close())
	assert.True(t, client.Disconnected())
}

func TestNewWithClientRejectsUnknownSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Sinks = []factory.ModuleConfig{{Type: "statsd"}}
	_, err := NewWithClient(cfg, infraocpp.NewMockClient())
	assert.Error(t, err)
}

func TestListenAddr(t *testing.T) {
	assert.Equal(t, ":9100", listenAddr("9100"))
	assert.Equal(t, "127.0.0.1:9100", listenAddr("127.0.0.1:9100"))
}
