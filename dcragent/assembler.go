package dcragent

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// reassemblyJob is the in-flight state for one report id. Owned exclusively
// by the Assembler; pagesSeen keys are 1-based page indexes.
type reassemblyJob struct {
	reportID    string
	pageCount   int
	pagesSeen   map[int][]byte
	firstSeenAt time.Time
	lastSeenAt  time.Time
}

// Assembler groups fragments belonging to the same logical report and yields
// each fully assembled report exactly once. Ingest and Sweep share one mutex:
// fragment ingestion is sequential, the sweep only interleaves between
// fragments. Multiple report ids in flight at the same time is the normal
// case, not an error.
type Assembler struct {
	mu         sync.Mutex
	jobs       map[string]*reassemblyJob
	staleAfter time.Duration
	seen       func(reportID string) (bool, error)
	log        *zap.SugaredLogger
}

// NewAssembler builds an assembler. seen is the dedup membership test used to
// reject fragments of already-disseminated reports before a job is allocated.
func NewAssembler(staleAfter time.Duration, seen func(string) (bool, error), log *zap.SugaredLogger) *Assembler {
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	return &Assembler{
		jobs:       make(map[string]*reassemblyJob),
		staleAfter: staleAfter,
		seen:       seen,
		log:        log,
	}
}

// Ingest feeds one fragment into reassembly. It returns a non-nil report when
// the fragment completes coverage of pages 1..pageCount for its id. An error
// means the dedup store is unavailable, which the caller treats as fatal.
func (a *Assembler) Ingest(f Fragment) (*Report, error) {
	if !f.Valid {
		a.log.Debugw("dropping invalid fragment", "report_id", f.ReportID, "page", f.PageIndex)
		return nil, nil
	}
	if f.PageCount < 1 || f.PageIndex < 1 || f.PageIndex > f.PageCount {
		a.log.Warnw("dropping malformed fragment",
			"report_id", f.ReportID, "page", f.PageIndex, "pages", f.PageCount)
		return nil, nil
	}
	done, err := a.seen(f.ReportID)
	if err != nil {
		return nil, fmt.Errorf("dedup lookup: %w", err)
	}
	if done {
		a.log.Debugw("dropping fragment of disseminated report", "report_id", f.ReportID)
		return nil, nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	job, ok := a.jobs[f.ReportID]
	if !ok {
		job = &reassemblyJob{
			reportID:    f.ReportID,
			pageCount:   f.PageCount,
			pagesSeen:   make(map[int][]byte, f.PageCount),
			firstSeenAt: f.ReceivedAt,
			lastSeenAt:  f.ReceivedAt,
		}
		a.jobs[f.ReportID] = job
	}
	if f.PageCount != job.pageCount {
		// Decode anomaly. The open job is almost always the earlier, correct
		// transmission, so keep it and discard the conflicting fragment.
		a.log.Warnw("page count mismatch, fragment discarded",
			"report_id", f.ReportID, "job_pages", job.pageCount, "fragment_pages", f.PageCount)
		return nil, nil
	}
	if _, dup := job.pagesSeen[f.PageIndex]; dup {
		return nil, nil
	}
	job.pagesSeen[f.PageIndex] = f.Payload
	job.lastSeenAt = f.ReceivedAt

	if len(job.pagesSeen) < job.pageCount {
		return nil, nil
	}

	delete(a.jobs, f.ReportID)
	pages := make([][]byte, job.pageCount)
	for i := 1; i <= job.pageCount; i++ {
		pages[i-1] = job.pagesSeen[i]
	}
	a.log.Infow("report assembled", "report_id", job.reportID, "pages", job.pageCount,
		"elapsed", f.ReceivedAt.Sub(job.firstSeenAt))
	return &Report{
		ReportID:    job.reportID,
		PageCount:   job.pageCount,
		Pages:       pages,
		CompletedAt: time.Now().UTC(),
	}, nil
}

// Sweep discards in-flight jobs with no new fragment inside the staleness
// window, covering satellites that stop mid-sequence or pages that never
// decode. Returns the number of jobs dropped.
func (a *Assembler) Sweep(now time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	dropped := 0
	for id, job := range a.jobs {
		if now.Sub(job.lastSeenAt) <= a.staleAfter {
			continue
		}
		a.log.Warnw("reassembly timed out incomplete",
			"report_id", id,
			"pages_seen", len(job.pagesSeen),
			"pages_expected", job.pageCount,
			"idle", now.Sub(job.lastSeenAt))
		delete(a.jobs, id)
		dropped++
	}
	return dropped
}

// InFlight returns the number of open reassembly jobs.
func (a *Assembler) InFlight() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.jobs)
}
