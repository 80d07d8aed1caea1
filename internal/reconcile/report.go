package reconcile

import (
	"time"
)

// OrderError is a per-order failure recorded during a sweep.
type OrderError struct {
	OrderID string `json:"order_id"`
	Op      string `json:"op"`
	Error   string `json:"error"`
}

// SweepReport is the observable result of one sweep. Every candidate id appears
// in exactly one outcome list.
type SweepReport struct {
	SweepID       string    `json:"sweep_id"`
	Symbol        string    `json:"symbol,omitempty"`
	ParamsVersion uint64    `json:"params_version"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Candidates    int       `json:"candidates"`

	Cancelled       []string `json:"cancelled"`
	AlreadyResolved []string `json:"already_resolved"`
	TransientRetry  []string `json:"transient_retry"`
	Expired         []string `json:"expired"`
	CancelFailed    []string `json:"cancel_failed"`
	Deferred        []string `json:"deferred"`

	// Skewed ids were excluded before dispatch because created_at is in the future.
	Skewed []string `json:"skewed"`

	Errors []OrderError `json:"errors"`

	// Partial is set when the sweep deadline, a shutdown or the circuit breaker
	// stopped dispatch before every candidate was handled.
	Partial bool `json:"partial"`

	// RemainingActive is the active order count after the sweep.
	RemainingActive int `json:"remaining_active"`
}

// Counts is the per-outcome tally of a report.
type Counts struct {
	Candidates      int `json:"candidates"`
	Cancelled       int `json:"cancelled"`
	AlreadyResolved int `json:"already_resolved"`
	TransientRetry  int `json:"transient_retry"`
	Expired         int `json:"expired"`
	CancelFailed    int `json:"cancel_failed"`
	Deferred        int `json:"deferred"`
	Skewed          int `json:"skewed"`
}

// Counts returns the number of ids per outcome.
func (r *SweepReport) Counts() Counts {
	return Counts{
		Candidates:      r.Candidates,
		Cancelled:       len(r.Cancelled),
		AlreadyResolved: len(r.AlreadyResolved),
		TransientRetry:  len(r.TransientRetry),
		Expired:         len(r.Expired),
		CancelFailed:    len(r.CancelFailed),
		Deferred:        len(r.Deferred),
		Skewed:          len(r.Skewed),
	}
}

// HasAlerts reports whether the sweep produced outcomes an operator must see.
func (r *SweepReport) HasAlerts() bool {
	return len(r.Expired) > 0 || len(r.CancelFailed) > 0
}

// Duration returns how long the sweep took.
func (r *SweepReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func newReport(id, symbol string, version uint64, started time.Time) *SweepReport {
	return &SweepReport{
		SweepID:         id,
		Symbol:          symbol,
		ParamsVersion:   version,
		StartedAt:       started,
		Cancelled:       []string{},
		AlreadyResolved: []string{},
		TransientRetry:  []string{},
		Expired:         []string{},
		CancelFailed:    []string{},
		Deferred:        []string{},
		Skewed:          []string{},
		Errors:          []OrderError{},
	}
}

func (r *SweepReport) add(o outcome) {
	switch o.kind {
	case outcomeCancelled:
		r.Cancelled = append(r.Cancelled, o.id)
	case outcomeResolved:
		r.AlreadyResolved = append(r.AlreadyResolved, o.id)
	case outcomeRetry:
		r.TransientRetry = append(r.TransientRetry, o.id)
	case outcomeExpired:
		r.Expired = append(r.Expired, o.id)
	case outcomeCancelFailed:
		r.CancelFailed = append(r.CancelFailed, o.id)
	case outcomeDeferred:
		r.Deferred = append(r.Deferred, o.id)
		r.Partial = true
	}

	if o.err != nil {
		r.Errors = append(r.Errors, OrderError{OrderID: o.id, Op: o.op, Error: o.err.Error()})
	}
	SweepOutcomesTotal.WithLabelValues(o.kind.String()).Inc()
}
