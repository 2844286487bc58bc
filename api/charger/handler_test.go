package charger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	corecharger "github.com/kilianp07/evcharger/core/charger"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/ocpp"
	"github.com/kilianp07/evcharger/core/state"
	"github.com/kilianp07/evcharger/infra/logger"
)

func newFacade(t *testing.T) (*corecharger.Charger, *state.Store) {
	t.Helper()
	store := state.New()
	cfg := model.DefaultEaseeHome("ws://localhost", "CP1")
	return corecharger.New(cfg, store, nil, logger.NopLogger{}), store
}

func connectStore(t *testing.T, store *state.Store) {
	t.Helper()
	if err := store.Update(func(s *model.ChargerState) error {
		*s = model.Connected(30, map[int]model.OutletState{1: model.OutletAvailable})
		return nil
	}); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func newMux(t *testing.T, f Facade, journal logging.Journal, token string) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	Register(mux, f, journal, token)
	return mux
}

func TestStateHandler(t *testing.T) {
	ch, store := newFacade(t)
	connectStore(t, store)
	mux := newMux(t, ch, logging.NopJournal{}, "")

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/state", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	var out StateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Identity != "CP1" || out.State.Phase != model.PhaseConnected {
		t.Fatalf("unexpected state %#v", out)
	}
	if out.ChargePointStatus != ocpp.ChargePointStatusAvailable {
		t.Fatalf("unexpected status %s", out.ChargePointStatus)
	}
}

func TestStateHandler_MethodNotAllowed(t *testing.T) {
	ch, _ := newFacade(t)
	rr := httptest.NewRecorder()
	NewStateHandler(ch, "").ServeHTTP(rr, httptest.NewRequest("POST", "/api/charger/state", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status %d", rr.Code)
	}
}

func TestCommandHandler(t *testing.T) {
	ch, store := newFacade(t)
	connectStore(t, store)
	mux := newMux(t, ch, logging.NopJournal{}, "")

	body := bytes.NewBufferString(`{"command":"car_connected","outlet":1}`)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest("POST", "/api/charger/commands", body))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	var out CommandResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State.Outlets[1] != model.OutletPreparing {
		t.Fatalf("outlet not preparing: %#v", out.State)
	}
}

func TestCommandHandler_Errors(t *testing.T) {
	ch, _ := newFacade(t)
	h := NewCommandHandler(ch, "")
	cases := []struct {
		name string
		body string
		code int
	}{
		{"malformed", `{`, http.StatusBadRequest},
		{"unknown", `{"command":"reboot"}`, http.StatusBadRequest},
		{"missing outlet", `{"command":"report_fault"}`, http.StatusBadRequest},
		{"not connected", `{"command":"blip_rfid","tag":"abc"}`, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest("POST", "/api/charger/commands", bytes.NewBufferString(tc.body)))
			if rr.Code != tc.code {
				t.Fatalf("expected %d got %d", tc.code, rr.Code)
			}
		})
	}
}

func TestHandlersRequireToken(t *testing.T) {
	ch, _ := newFacade(t)
	mux := newMux(t, ch, logging.NopJournal{}, "tok")

	for _, path := range []string{"/api/charger/state", "/api/charger/journal"} {
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, httptest.NewRequest("GET", path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401 got %d", path, rr.Code)
		}
	}
	req := httptest.NewRequest("GET", "/api/charger/state", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestJournalHandler_Filters(t *testing.T) {
	journal, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "journal.log"))
	if err != nil {
		t.Fatalf("journal: %v", err)
	}
	defer func() { _ = journal.Close() }()
	now := time.Now().UTC()
	recs := []logging.Record{
		{Timestamp: now, Identity: "CP1", Kind: logging.KindMessage, Message: &logging.Message{Action: "BootNotification", Status: "Accepted"}},
		{Timestamp: now, Identity: "CP1", Kind: logging.KindMessage, Message: &logging.Message{Action: "Heartbeat"}},
		{Timestamp: now, Identity: "CP1", Kind: logging.KindTransition, Transition: &model.Transition{Old: model.Shutdown(), New: model.Booting()}},
	}
	for _, r := range recs {
		if err := journal.Append(context.Background(), r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	h := NewJournalHandler(journal, "")

	get := func(query string) []logging.Record {
		t.Helper()
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/journal"+query, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("status %d", rr.Code)
		}
		var out []logging.Record
		if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if got := get(""); len(got) != 3 {
		t.Fatalf("expected 3 records got %d", len(got))
	}
	if got := get("?kind=message&action=Heartbeat"); len(got) != 1 || got[0].Message.Action != "Heartbeat" {
		t.Fatalf("unexpected filter result %#v", got)
	}
	if got := get("?kind=transition"); len(got) != 1 || got[0].Transition.New.Phase != model.PhaseBooting {
		t.Fatalf("unexpected transition result %#v", got)
	}
	future := now.Add(time.Hour).Format(time.RFC3339)
	if got := get("?start=" + future); len(got) != 0 {
		t.Fatalf("expected no records after %s", future)
	}
}

func TestJournalHandler_BadKind(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJournalHandler(logging.NopJournal{}, "").ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/journal?kind=other", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rr.Code)
	}
}

func TestJournalHandler_EmptyArray(t *testing.T) {
	rr := httptest.NewRecorder()
	NewJournalHandler(logging.NopJournal{}, "").ServeHTTP(rr, httptest.NewRequest("GET", "/api/charger/journal", nil))
	if rr.Body.String() != "[]\n" {
		t.Fatalf("expected empty array got %s", rr.Body.String())
	}
}
