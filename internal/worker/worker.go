// Package worker runs the server's single submission loop: pull the next
// batch of pending flags, hand it to the game system, and write the
// verdicts back. A second loop sweeps expired flags on a short timer.
package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/h4ppyfarm/farm/internal/metrics"
	"github.com/h4ppyfarm/farm/internal/store"
	"github.com/h4ppyfarm/farm/internal/submitter"
	"github.com/h4ppyfarm/farm/internal/timeutil"
)

// sweepInterval is how often expired flags are swept independently of
// the submission cycle.
const sweepInterval = 5 * time.Second

// errBackoff is the pause after a failed submission attempt before the
// same batch is retried.
const errBackoff = 5 * time.Second

// Worker drives flag submission. There is exactly one per server; all
// verdict writes funnel through it.
type Worker struct {
	store      *store.Store
	sub        submitter.Submitter
	period     time.Duration
	lifetime   int64 // seconds
	batchLimit int

	logger   *log.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a submission worker. period is the submit period, lifetime
// the flag lifetime in seconds.
func New(st *store.Store, sub submitter.Submitter, period time.Duration, lifetime int64, batchLimit int) *Worker {
	return &Worker{
		store:      st,
		sub:        sub,
		period:     period,
		lifetime:   lifetime,
		batchLimit: batchLimit,
		logger:     log.New(log.Writer(), "[WORKER] ", log.LstdFlags),
		stopChan:   make(chan struct{}),
	}
}

// Start launches the submission and sweep loops.
func (w *Worker) Start() {
	w.wg.Add(2)
	go func() {
		defer w.wg.Done()
		w.submitLoop()
	}()
	go func() {
		defer w.wg.Done()
		w.sweepLoop()
	}()
}

// Stop drains the in-flight cycle and waits for both loops to exit.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
	})
	w.wg.Wait()
}

func (w *Worker) submitLoop() {
	for {
		sleep := w.runCycle()
		select {
		case <-w.stopChan:
			return
		case <-time.After(sleep):
		}
	}
}

func (w *Worker) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := w.store.SweepExpired(context.Background(), timeutil.Now()); err != nil {
				w.logger.Printf("Expiry sweep failed: %v", err)
			}
		case <-w.stopChan:
			return
		}
	}
}

// runCycle performs one sweep-batch-submit-record pass and returns how
// long to sleep before the next one. The sleep is shortened when the
// oldest pending flag would expire before a full submit period elapses.
func (w *Worker) runCycle() time.Duration {
	ctx := context.Background()
	now := timeutil.Now()

	if _, err := w.store.SweepExpired(ctx, now); err != nil {
		w.logger.Printf("Expiry sweep failed: %v", err)
		return w.period
	}

	batch, err := w.store.NextPendingBatch(ctx, w.batchLimit)
	if err != nil {
		w.logger.Printf("Could not read pending batch: %v", err)
		return w.period
	}
	if len(batch) == 0 {
		return w.period
	}

	w.logger.Printf("Submitting %d flags to game system", len(batch))
	metrics.SubmitBatchSize.Observe(float64(len(batch)))

	// No store transaction is held across this network call: the batch
	// was read above, verdicts are written below.
	verdicts, err := w.sub.Submit(batch)
	if err != nil {
		metrics.SubmitErrors.Inc()
	}

	if len(verdicts) > 0 {
		if rerr := w.store.RecordVerdicts(ctx, verdicts, now); rerr != nil {
			w.logger.Printf("Could not record verdicts: %v", rerr)
			return errBackoff
		}
		w.countVerdicts(verdicts)
	}

	if err != nil {
		// The batch stays PENDING; retry it after a short pause.
		return errBackoff
	}

	nextExpiry := time.Duration(w.lifetime-(timeutil.Now()-batch[0].Timestamp)) * time.Second
	if nextExpiry < 0 {
		nextExpiry = 0
	}
	if nextExpiry < w.period {
		return nextExpiry
	}
	return w.period
}

func (w *Worker) countVerdicts(verdicts []store.Verdict) {
	for _, v := range verdicts {
		switch v.Status {
		case store.StatusAccepted:
			metrics.Verdicts.WithLabelValues("accepted").Inc()
		case store.StatusRejected:
			metrics.Verdicts.WithLabelValues("rejected").Inc()
		default:
			metrics.Verdicts.WithLabelValues("unknown").Inc()
		}
	}
}
