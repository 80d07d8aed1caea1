// Package staleness selects the orders that have been outstanding longer than
// the configured threshold.
package staleness

import (
	"errors"
	"sort"
	"time"

	"github.com/mselser95/order-reconciler/pkg/timestamp"
	"github.com/mselser95/order-reconciler/pkg/types"
)

// Candidate is a stale order and its age at scan time.
type Candidate struct {
	Record     types.OrderRecord
	AgeSeconds float64
}

// Skewed is a record excluded because its created_at is ahead of now.
type Skewed struct {
	Record types.OrderRecord
	Err    *timestamp.ClockSkewError
}

// Result is the outcome of one scan.
type Result struct {
	Stale  []Candidate
	Skewed []Skewed
}

// Records returns the stale records in scan order.
func (r Result) Records() []types.OrderRecord {
	out := make([]types.OrderRecord, len(r.Stale))
	for i, c := range r.Stale {
		out[i] = c.Record
	}
	return out
}

// Filter narrows a scan. The zero value matches every record.
type Filter struct {
	Symbol string
}

func (f Filter) match(rec types.OrderRecord) bool {
	return f.Symbol == "" || rec.Symbol == f.Symbol
}

// eligible reports whether a record can be a sweep candidate at all. Terminal
// records are resolved; CancelFailed records are waiting on an operator.
func eligible(rec types.OrderRecord) bool {
	return !rec.Status.IsTerminal() && rec.Status != types.StatusCancelFailed
}

// FindStale returns records whose age exceeds thresholdSeconds, oldest first
// (ascending CreatedAt, ties broken by ID).
func FindStale(records []types.OrderRecord, thresholdSeconds float64, now time.Time) Result {
	return FindStaleFiltered(records, thresholdSeconds, now, Filter{})
}

// FindStaleFiltered is FindStale restricted to records matching f.
func FindStaleFiltered(records []types.OrderRecord, thresholdSeconds float64, now time.Time, f Filter) Result {
	var res Result

	for _, rec := range records {
		if !eligible(rec) || !f.match(rec) {
			continue
		}

		age, err := timestamp.AgeSeconds(rec.CreatedAt, now)
		if err != nil {
			var skew *timestamp.ClockSkewError
			if errors.As(err, &skew) {
				res.Skewed = append(res.Skewed, Skewed{Record: rec, Err: skew})
				ClockSkewTotal.Inc()
			}
			continue
		}

		if age > thresholdSeconds {
			res.Stale = append(res.Stale, Candidate{Record: rec, AgeSeconds: age})
		}
	}

	sort.SliceStable(res.Stale, func(i, j int) bool {
		a, b := res.Stale[i].Record, res.Stale[j].Record
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})

	StaleCandidates.Set(float64(len(res.Stale)))
	if len(res.Stale) > 0 {
		OldestStaleAge.Set(res.Stale[0].AgeSeconds)
	} else {
		OldestStaleAge.Set(0)
	}

	return res
}
