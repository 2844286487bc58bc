// Package charger exposes the charger facade over HTTP.
package charger

import (
	"encoding/json"
	"errors"
	"net/http"

	corecharger "github.com/kilianp07/evcharger/core/charger"
	"github.com/kilianp07/evcharger/core/dispatch/logging"
	"github.com/kilianp07/evcharger/core/model"
	"github.com/kilianp07/evcharger/core/ocpp"
)

// Facade is the part of the charger facade used by the handlers.
type Facade interface {
	Config() model.StationConfig
	State() model.ChargerState
	Execute(cmd corecharger.Command) error
}

// StateResponse is returned by GET /api/charger/state.
type StateResponse struct {
	Identity          string                 `json:"identity"`
	ChargePointStatus ocpp.ChargePointStatus `json:"charge_point_status"`
	State             model.ChargerState     `json:"state"`
}

// CommandResponse is returned by POST /api/charger/commands.
type CommandResponse struct {
	Command string             `json:"command"`
	State   model.ChargerState `json:"state"`
}

// Register mounts the charger routes on mux. Every route requires an
// Authorization header with "Bearer <token>" when token is non-empty.
func Register(mux *http.ServeMux, f Facade, journal logging.Journal, token string) {
	mux.Handle("/api/charger/state", NewStateHandler(f, token))
	mux.Handle("/api/charger/commands", NewCommandHandler(f, token))
	mux.Handle("/api/charger/journal", NewJournalHandler(journal, token))
}

// NewStateHandler returns an HTTP handler exposing the charger state via GET /api/charger/state.
func NewStateHandler(f Facade, token string) http.Handler {
	return authorize(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st := f.State()
		writeJSON(w, http.StatusOK, StateResponse{
			Identity:          f.Config().Identity,
			ChargePointStatus: st.ChargePointStatus(),
			State:             st,
		})
	}))
}

// NewCommandHandler returns an HTTP handler running facade commands posted to
// /api/charger/commands.
func NewCommandHandler(f Facade, token string) http.Handler {
	return authorize(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var cmd corecharger.Command
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&cmd); err != nil {
			http.Error(w, "invalid command: "+err.Error(), http.StatusBadRequest)
			return
		}
		if err := f.Execute(cmd); err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, corecharger.ErrNotConnected) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		writeJSON(w, http.StatusOK, CommandResponse{Command: cmd.Name, State: f.State()})
	}))
}

func authorize(token string, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
