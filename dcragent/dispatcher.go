package dcragent

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// TaskState tracks a dispatch task through its lifecycle.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskPersisting TaskState = "persisting"
	TaskNotifying  TaskState = "notifying"
	TaskDone       TaskState = "done"
	TaskFailed     TaskState = "failed"
)

// DispatchTask is one unit of dissemination work for a report. Attempts
// counts tries within the current stage only; it resets when the task moves
// from persist to notify.
type DispatchTask struct {
	Report   Report
	State    TaskState
	Attempts int
}

type DispatcherConfig struct {
	Workers     int
	MaxAttempts int           // per-stage attempt ceiling
	RetryBase   time.Duration // initial backoff interval
	QueueSize   int
	Recipients  []string
}

// Dispatcher drives each report through persist-then-notify with bounded
// parallelism. Loss of the mail relay must never lose the report itself: the
// durable artifact is written first and a notify retry never repeats the put.
// Different reports share no mutable state except the dedup store, whose
// Claim keeps dissemination single-owner.
type Dispatcher struct {
	cfg       DispatcherConfig
	artifacts ArtifactStore
	notifier  Notifier
	dedup     *DedupStore
	log       *zap.SugaredLogger

	tasks     chan *DispatchTask
	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, artifacts ArtifactStore, notifier Notifier, dedup *DedupStore, log *zap.SugaredLogger) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Dispatcher{
		cfg:       cfg,
		artifacts: artifacts,
		notifier:  notifier,
		dedup:     dedup,
		log:       log,
		tasks:     make(chan *DispatchTask, cfg.QueueSize),
	}
}

// Start launches the worker pool. Cancelling ctx aborts backoff sleeps of
// tasks still retrying; tasks between retries run to completion.
func (d *Dispatcher) Start(ctx context.Context) {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for task := range d.tasks {
				d.process(ctx, task)
			}
		}()
	}
}

// Submit enqueues a report for dissemination. The queue is bounded; when it
// fills, Submit blocks the caller rather than dropping a report. Ingestion
// stalling behind a full queue is deliberate: completed reports arrive at
// satellite broadcast rate while the queue only fills when both the archive
// and the relay are down, and in that state losing reports is worse than
// pausing intake.
func (d *Dispatcher) Submit(report Report) {
	d.tasks <- &DispatchTask{Report: report, State: TaskPending}
}

// Drain stops accepting work and waits up to timeout for in-flight tasks to
// finish, so a shutdown does not orphan a half-persisted report.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	d.closeOnce.Do(func() { close(d.tasks) })
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (d *Dispatcher) process(ctx context.Context, task *DispatchTask) {
	id := task.Report.ReportID

	claimed, err := d.dedup.Claim(id, time.Now().UTC())
	if err != nil {
		// Without a working dedup store, exactly-once dissemination cannot
		// be guaranteed.
		d.log.Fatalw("dedup store unavailable", "report_id", id, "error", err)
		return
	}
	if !claimed {
		d.log.Debugw("report already claimed, dropping task", "report_id", id)
		return
	}

	task.State = TaskPersisting
	content, err := task.Report.Artifact()
	if err != nil {
		d.deadLetter(task, "persist", err)
		return
	}
	key := ArtifactKey(id)
	if err := d.retry(ctx, task, func() error { return d.artifacts.Put(key, content) }); err != nil {
		d.log.Errorw("persist failed", "report_id", id, "key", key,
			"attempts", task.Attempts, "error", err)
		d.deadLetter(task, "persist", err)
		return
	}
	d.log.Infow("report persisted", "report_id", id, "key", key)

	task.State = TaskNotifying
	subject, body := task.Report.MailSubject(), task.Report.MailBody()
	if err := d.retry(ctx, task, func() error { return d.notifier.Send(subject, body, d.cfg.Recipients) }); err != nil {
		// The artifact already exists; only notification failed. Leaving the
		// report unmarked keeps a manual resend possible.
		d.log.Errorw("notify failed", "report_id", id,
			"attempts", task.Attempts, "error", err)
		d.deadLetter(task, "notify", err)
		return
	}

	if err := d.dedup.MarkDisseminated(id, task.Report.CompletedAt, DispositionHash(task.Report.Pages)); err != nil {
		d.log.Fatalw("dedup store unavailable", "report_id", id, "error", err)
		return
	}
	task.State = TaskDone
	d.log.Infow("report disseminated", "report_id", id)
}

// retry runs op with exponential backoff until success, a permanent error,
// or the per-stage attempt ceiling.
func (d *Dispatcher) retry(ctx context.Context, task *DispatchTask, op func() error) error {
	task.Attempts = 0
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.RetryBase
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(d.cfg.MaxAttempts-1)), ctx)
	return backoff.Retry(func() error {
		task.Attempts++
		err := op()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		d.log.Warnw("transient failure, will retry",
			"report_id", task.Report.ReportID, "state", task.State,
			"attempt", task.Attempts, "error", err)
		return err
	}, policy)
}

func (d *Dispatcher) deadLetter(task *DispatchTask, stage string, cause error) {
	task.State = TaskFailed
	doc, _ := json.Marshal(task.Report)
	dl := DeadLetter{
		ReportID:   task.Report.ReportID,
		Stage:      stage,
		Attempts:   task.Attempts,
		LastError:  cause.Error(),
		ReportJSON: string(doc),
		CreatedAt:  time.Now().UTC(),
	}
	if err := d.dedup.RecordDeadLetter(dl); err != nil {
		d.log.Fatalw("dead-letter write failed, dedup durability lost",
			"report_id", task.Report.ReportID, "error", err)
		return
	}
	d.log.Warnw("report dead-lettered", "report_id", task.Report.ReportID,
		"stage", stage, "attempts", task.Attempts)
}
