package extract

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
	"time"
)

const (
	defaultMaxRetries   = 3
	defaultRecentWindow = 5
	defaultSummaryLen   = 10
)

// Outcome of one recorded action attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ActionRecord is one attempted action. Immutable once recorded.
type ActionRecord struct {
	Time    time.Time
	Kind    string
	Params  map[string]string
	Outcome Outcome
	Detail  string
}

// ActionTracker keeps the ordered action history and per-action
// consecutive-failure counters so the orchestrator never repeats a
// futile action indefinitely. It is mutated by a single goroutine;
// parallel batch drivers must each own their own tracker.
type ActionTracker struct {
	history    []ActionRecord
	failures   map[uint64]int
	maxRetries int
	now        func() time.Time
}

func NewActionTracker(maxRetries int) *ActionTracker {
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	return &ActionTracker{
		failures:   make(map[uint64]int),
		maxRetries: maxRetries,
		now:        time.Now,
	}
}

// actionKey fingerprints kind plus parameters. Parameters are sorted
// by key first, so insertion order never changes the identity.
func actionKey(kind string, params map[string]string) uint64 {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := fnv.New64a()
	h.Write([]byte(kind))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(params[k]))
	}
	return h.Sum64()
}

// ShouldRetry reports whether the action's consecutive-failure count
// is still below the budget. Pure read.
func (t *ActionTracker) ShouldRetry(kind string, params map[string]string) bool {
	return t.failures[actionKey(kind, params)] < t.maxRetries
}

// TriedRecently reports whether the same action appears among the
// last window recorded actions. A soft warning signal, not a gate.
func (t *ActionTracker) TriedRecently(kind string, params map[string]string, window int) bool {
	if window <= 0 {
		window = defaultRecentWindow
	}
	key := actionKey(kind, params)
	start := len(t.history) - window
	if start < 0 {
		start = 0
	}
	for _, rec := range t.history[start:] {
		if actionKey(rec.Kind, rec.Params) == key {
			return true
		}
	}
	return false
}

// Record appends the attempt to the history and updates the failure
// counter: reset to zero on success, incremented on failure.
func (t *ActionTracker) Record(kind string, params map[string]string, outcome Outcome, detail string) ActionRecord {
	rec := ActionRecord{
		Time:    t.now(),
		Kind:    kind,
		Params:  cloneParams(params),
		Outcome: outcome,
		Detail:  detail,
	}
	t.history = append(t.history, rec)
	key := actionKey(kind, params)
	if outcome == OutcomeSuccess {
		t.failures[key] = 0
	} else {
		t.failures[key]++
	}
	return rec
}

// Summary renders the last n records for diagnostics.
func (t *ActionTracker) Summary(n int) string {
	if n <= 0 {
		n = defaultSummaryLen
	}
	if len(t.history) == 0 {
		return "no actions recorded"
	}
	start := len(t.history) - n
	if start < 0 {
		start = 0
	}
	var b strings.Builder
	b.WriteString("recent actions:\n")
	for i, rec := range t.history[start:] {
		fmt.Fprintf(&b, "%d. [%s] %s %v", i+1, rec.Outcome, rec.Kind, rec.Params)
		if rec.Detail != "" {
			fmt.Fprintf(&b, " (%s)", rec.Detail)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func cloneParams(params map[string]string) map[string]string {
	if params == nil {
		return nil
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}
