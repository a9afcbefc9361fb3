package payment

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RepairJob completes one request whose payment succeeded but whose status
// write was lost.
type RepairJob struct {
	RequestID string
	IntentID  string
	PaidAt    time.Time
}

type repairWorker struct {
	id         int
	workerPool chan chan RepairJob
	jobChannel chan RepairJob
	logger     *slog.Logger
}

func newRepairWorker(id int, workerPool chan chan RepairJob, logger *slog.Logger) *repairWorker {
	return &repairWorker{
		id:         id,
		workerPool: workerPool,
		jobChannel: make(chan RepairJob),
		logger:     logger,
	}
}

func (w *repairWorker) start(ctx context.Context, wg *sync.WaitGroup, processFunc func(RepairJob)) {
	wg.Add(1)
	go func() {
		defer wg.Done()

		for {
			w.workerPool <- w.jobChannel

			select {
			case job := <-w.jobChannel:
				w.logger.Debug("repair worker processing job", "worker_id", w.id, "request_id", job.RequestID)
				processFunc(job)
			case <-ctx.Done():
				return
			}
		}
	}()
}

type RepairConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
}

// Repairer finds requests left in accepted with a succeeded payment by a
// degraded settlement and completes them.
type Repairer struct {
	requests RequestStore
	config   RepairConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewRepairer(requests RequestStore, config RepairConfig, logger *slog.Logger) *Repairer {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	return &Repairer{
		requests: requests,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Run sweeps immediately and then on every interval until ctx is done.
func (r *Repairer) Run(ctx context.Context) error {
	r.logger.Info("settlement repair worker started",
		"interval", r.config.Interval,
		"batch_size", r.config.BatchSize,
		"workers", r.config.Workers)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("settlement repair sweep failed", "error", err)
		}

		select {
		case <-ctx.Done():
			r.logger.Info("settlement repair worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce repairs one batch and returns how many requests were completed.
func (r *Repairer) SweepOnce(ctx context.Context) (int, error) {
	rows, err := r.requests.ListSettledIncomplete(ctx, r.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	r.logger.Info("repairing settled requests", "count", len(rows))

	var (
		wg       sync.WaitGroup
		repaired atomic.Int64
	)
	poolCtx, stop := context.WithCancel(ctx)
	workerPool := make(chan chan RepairJob, r.config.Workers)

	process := func(job RepairJob) {
		if err := r.requests.ApplySettlement(ctx, job.RequestID, job.IntentID, job.PaidAt); err != nil {
			r.logger.Error("failed to repair settlement", "error", err, "request_id", job.RequestID)
			return
		}
		repaired.Add(1)
		r.logger.Info("settlement repaired",
			"request_id", job.RequestID,
			"payment_intent_id", job.IntentID,
			"channel", ChannelRepair)
	}

	for i := 0; i < r.config.Workers; i++ {
		newRepairWorker(i, workerPool, r.logger).start(poolCtx, &wg, process)
	}

dispatch:
	for _, req := range rows {
		if !req.HasIntent() {
			r.logger.Warn("settled request has no intent on file", "request_id", req.ID)
			continue
		}
		job := RepairJob{RequestID: req.ID, IntentID: *req.PaymentIntentID, PaidAt: r.now()}
		if req.PaidAt != nil {
			job.PaidAt = *req.PaidAt
		}

		select {
		case jobChannel := <-workerPool:
			select {
			case jobChannel <- job:
			case <-ctx.Done():
				break dispatch
			}
		case <-ctx.Done():
			break dispatch
		}
	}

	stop()
	wg.Wait()

	return int(repaired.Load()), ctx.Err()
}
