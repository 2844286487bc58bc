package charger

import (
	"net/http"
	"time"

	"github.com/kilianp07/evcharger/core/dispatch/logging"
)

// NewJournalHandler returns an HTTP handler exposing the dispatch journal via
// GET /api/charger/journal. Supported filters: start and end (RFC3339), kind
// and action.
func NewJournalHandler(journal logging.Journal, token string) http.Handler {
	return authorize(token, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		q := logging.Query{}
		if s := r.URL.Query().Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := r.URL.Query().Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		switch k := logging.Kind(r.URL.Query().Get("kind")); k {
		case "", logging.KindTransition, logging.KindMessage:
			q.Kind = k
		default:
			http.Error(w, "unknown kind", http.StatusBadRequest)
			return
		}
		q.Action = r.URL.Query().Get("action")
		records, err := journal.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []logging.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}))
}
