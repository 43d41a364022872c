// Package diag records in-flight coordinated fetches and FUSE requests so
// that a stuck fetch can be inspected while the mirror runs.
package diag

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime/pprof"
	"slices"
	"strings"
	"sync"
	"time"
)

// Op is one in-flight operation.
type Op struct {
	ID        uint64    `json:"id"`
	Component string    `json:"component"` // "coord", "PostNode", ...
	Key       string    `json:"key"`       // coordinator key or node method
	Detail    string    `json:"detail,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	Started   time.Time `json:"started"`
}

// Age is how long op has been running at now.
func (op Op) Age(now time.Time) time.Duration {
	return now.Sub(op.Started)
}

// OpHandle ends or annotates one tracked operation. A handle from a nil
// tracker does nothing.
type OpHandle struct {
	t  *Tracker
	op *Op
}

// SetPhase names the step the operation is currently in.
func (h *OpHandle) SetPhase(phase string) {
	if h.t == nil {
		return
	}
	h.t.mu.Lock()
	h.op.Phase = phase
	h.t.mu.Unlock()
}

// Done ends the operation. Further calls are ignored.
func (h *OpHandle) Done() {
	if h.t == nil {
		return
	}
	h.t.mu.Lock()
	delete(h.t.ops, h.op.ID)
	h.t.mu.Unlock()
}

// Tracker is the registry of in-flight operations.
type Tracker struct {
	mu     sync.Mutex
	lastID uint64
	ops    map[uint64]*Op
	now    func() time.Time
}

func NewTracker() *Tracker {
	return &Tracker{ops: make(map[uint64]*Op), now: time.Now}
}

// Track registers an operation; the caller ends it with Done.
func (t *Tracker) Track(component, key, detail string) *OpHandle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastID++
	op := &Op{ID: t.lastID, Component: component, Key: key, Detail: detail, Started: t.now()}
	t.ops[op.ID] = op
	return &OpHandle{t: t, op: op}
}

// Track is Tracker.Track for a tracker that may be nil.
func Track(t *Tracker, component, key, detail string) *OpHandle {
	if t == nil {
		return &OpHandle{}
	}
	return t.Track(component, key, detail)
}

// InFlight returns copies of the running operations, oldest first.
func (t *Tracker) InFlight() []Op {
	return t.olderThan(0)
}

func (t *Tracker) olderThan(minAge time.Duration) []Op {
	t.mu.Lock()
	now := t.now()
	ops := make([]Op, 0, len(t.ops))
	for _, op := range t.ops {
		if op.Age(now) >= minAge {
			ops = append(ops, *op)
		}
	}
	t.mu.Unlock()
	slices.SortFunc(ops, func(a, b Op) int {
		if c := a.Started.Compare(b.Started); c != 0 {
			return c
		}
		return int(a.ID) - int(b.ID)
	})
	return ops
}

// Dump renders the running operations grouped by component.
func (t *Tracker) Dump() string {
	var b strings.Builder
	t.writeText(&b, t.InFlight())
	return b.String()
}

func (t *Tracker) writeText(w io.Writer, ops []Op) {
	if len(ops) == 0 {
		fmt.Fprintln(w, "no in-flight operations")
		return
	}
	now := t.now()
	byComponent := make(map[string][]Op)
	var components []string
	for _, op := range ops {
		if _, seen := byComponent[op.Component]; !seen {
			components = append(components, op.Component)
		}
		byComponent[op.Component] = append(byComponent[op.Component], op)
	}
	slices.Sort(components)

	fmt.Fprintf(w, "%d in-flight operation(s)\n", len(ops))
	for _, c := range components {
		fmt.Fprintf(w, "%s (%d):\n", c, len(byComponent[c]))
		for _, op := range byComponent[c] {
			line := op.Key
			if op.Detail != "" {
				line += " " + op.Detail
			}
			if op.Phase != "" {
				line += " [" + op.Phase + "]"
			}
			fmt.Fprintf(w, "  #%d %s %s\n", op.ID, line, op.Age(now).Truncate(time.Millisecond))
		}
	}
}

// Handler serves the in-flight operations.
//
//	?json       JSON array instead of text
//	?min=2s     only operations running at least this long
//	?stacks     append every goroutine's stack to the text output
func (t *Tracker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var minAge time.Duration
		if s := q.Get("min"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				http.Error(w, "invalid min: "+err.Error(), http.StatusBadRequest)
				return
			}
			minAge = d
		}
		ops := t.olderThan(minAge)

		if q.Has("json") {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(ops); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		t.writeText(w, ops)
		if q.Has("stacks") {
			fmt.Fprintln(w)
			pprof.Lookup("goroutine").WriteTo(w, 1)
		}
	})
}
