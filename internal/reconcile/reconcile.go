package reconcile

import (
	"github.com/datacure/livejobs/internal/cache"
	"github.com/datacure/livejobs/internal/envelope"
	"github.com/datacure/livejobs/internal/model"
)

// Result is the outcome of reconciling one event.
type Result struct {
	// Next is the view to write back. It is nil when nothing was cached.
	Next *model.JobView
	// Invalidations lists key prefixes to mark stale.
	Invalidations []cache.Key
}

// Changed reports whether Next differs from current.
func (r Result) Changed(current *model.JobView) bool {
	if r.Next == nil || current == nil {
		return false
	}
	return *r.Next != *current
}

// Reconcile applies env to the cached view of jobID. current is nil on a
// cache miss, in which case only invalidations are produced.
func Reconcile(current *model.JobView, env envelope.Envelope, jobID string) Result {
	var res Result

	switch p := env.Payload.(type) {
	case envelope.ProgressUpdate:
		res.Next = applyProgress(current, p)

	case envelope.RecordCompleted:
		res.Next = clone(current)
		res.Invalidations = []cache.Key{cache.JobRecords(jobID)}

	case envelope.JobCompleted:
		res.Next = applyTerminal(current, model.StatusCompleted)
		res.Invalidations = []cache.Key{
			cache.JobDetail(jobID),
			cache.JobRecords(jobID),
			cache.DashboardMetrics(),
		}

	case envelope.JobFailed:
		res.Next = applyTerminal(current, model.StatusFailed)
		res.Invalidations = []cache.Key{cache.JobDetail(jobID)}

	default:
		// agent_log, connection_lost and anything unrecognised leave the
		// cache alone.
		res.Next = clone(current)
	}

	return res
}

func applyProgress(current *model.JobView, p envelope.ProgressUpdate) *model.JobView {
	if current == nil {
		return nil
	}
	next := *current
	if next.Status.Terminal() {
		return &next
	}

	next.Progress = clampInt(p.Progress, 0, 100)
	next.CompletedRecords = max(p.CompletedRecords, 0)
	if next.TotalRecords > 0 && next.CompletedRecords > next.TotalRecords {
		next.CompletedRecords = next.TotalRecords
	}
	if next.Status == model.StatusQueued {
		next.Status = model.StatusProcessing
	}
	return &next
}

// applyTerminal moves the view to status unless it is already terminal.
// The first terminal event wins.
func applyTerminal(current *model.JobView, status model.Status) *model.JobView {
	if current == nil {
		return nil
	}
	next := *current
	if !next.Status.Terminal() {
		next.Status = status
	}
	return &next
}

func clone(v *model.JobView) *model.JobView {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
