// Package logging journals what the dispatch engine observed and sent: every
// consumed state transition and every outbound OCPP operation. The journal is
// an audit trail; it is never read back to restore charger state.
package logging

import (
	"context"
	"time"

	"github.com/kilianp07/evcharger/core/model"
)

// Kind distinguishes journal entries.
type Kind string

const (
	KindTransition Kind = "transition"
	KindMessage    Kind = "message"
)

// Message describes one outbound protocol operation.
type Message struct {
	Action      string `json:"action"`
	ConnectorID *int   `json:"connector_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Error       string `json:"error,omitempty"`
	LatencyMS   int64  `json:"latency_ms"`
}

// Record is one journal entry.
type Record struct {
	Timestamp  time.Time         `json:"timestamp"`
	Identity   string            `json:"identity"`
	Kind       Kind              `json:"kind"`
	Transition *model.Transition `json:"transition,omitempty"`
	Message    *Message          `json:"message,omitempty"`
}

// Query defines filters for retrieving records. Zero values match everything.
type Query struct {
	Start  time.Time
	End    time.Time
	Kind   Kind
	Action string
}

// Journal persists Records and supports querying.
type Journal interface {
	Append(ctx context.Context, rec Record) error
	Query(ctx context.Context, q Query) ([]Record, error)
	Close() error
}

// Matches reports whether r satisfies q.
func (q Query) Matches(r Record) bool {
	if !q.Start.IsZero() && r.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && r.Timestamp.After(q.End) {
		return false
	}
	if q.Kind != "" && r.Kind != q.Kind {
		return false
	}
	if q.Action != "" && (r.Message == nil || r.Message.Action != q.Action) {
		return false
	}
	return true
}

// NopJournal discards every record.
type NopJournal struct{}

func (NopJournal) Append(context.Context, Record) error            { return nil }
func (NopJournal) Query(context.Context, Query) ([]Record, error) { return nil, nil }
func (NopJournal) Close() error                                   { return nil }
