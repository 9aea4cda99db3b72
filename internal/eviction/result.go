package eviction

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/lucasew/audiocache/internal/eviction/policy"
)

// Result summarizes one eviction pass. A fresh value is built for every pass.
type Result struct {
	ID                 string
	Scanned            int
	Deleted            int
	SkippedAlreadyGone int
	Failed             int
	FreedBytes         int64
	// Removed holds the artifacts actually deleted, oldest first.
	Removed  []Artifact
	Failures []*DeletionError
}

func (r *Result) String() string {
	return fmt.Sprintf("deleted %d, already gone %d, failed %d, freed %s",
		r.Deleted, r.SkippedAlreadyGone, r.Failed, humanize.IBytes(uint64(r.FreedBytes)))
}

// Report is the outcome of a check-and-evict pass.
// Result is nil when the capacity check found nothing to do.
type Report struct {
	Decision policy.Decision
	Result   *Result
}

// Summary renders the report for operators.
func (r *Report) Summary() string {
	if r.Result == nil {
		return fmt.Sprintf("no action needed: %s", r.Decision)
	}
	if r.Decision.Reason == "" {
		return r.Result.String()
	}
	return fmt.Sprintf("%s: %s", r.Decision.Reason, r.Result)
}
