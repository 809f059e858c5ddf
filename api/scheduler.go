/*
scheduler.go - Automated escalation scheduler

PURPOSE:
  Periodically runs the escalation pass so pending deficits whose due date
  has passed become overdue without anyone opening the app.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - The pass itself is idempotent, so overlapping with a manual run is harmless
  - Records the last run for the admin status endpoint

CONFIGURATION:
  - CheckInterval: How often to check (default: 24 hours)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewEscalationScheduler(engine, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: TriggerEscalation endpoint (manual escalation)
  - deficit/escalation.go: the pass itself
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/warp/deficit-engine/deficit"
)

// Escalator is the part of the engine the scheduler drives.
type Escalator interface {
	Escalate(ctx context.Context) (deficit.EscalationResult, error)
}

// EscalationRun records the outcome of one scheduled or manual pass.
type EscalationRun struct {
	StartedAt   time.Time                `json:"started_at"`
	CompletedAt time.Time                `json:"completed_at"`
	Result      deficit.EscalationResult `json:"result"`
	Error       string                   `json:"error,omitempty"`
}

// EscalationScheduler handles automated escalation.
type EscalationScheduler struct {
	Engine        Escalator
	CheckInterval time.Duration
	Enabled       bool

	log     logrus.FieldLogger
	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun *EscalationRun
	nextRun time.Time
}

// NewEscalationScheduler creates a new scheduler.
func NewEscalationScheduler(engine Escalator, log logrus.FieldLogger) *EscalationScheduler {
	return &EscalationScheduler{
		Engine:        engine,
		CheckInterval: 24 * time.Hour,
		Enabled:       true,
		log:           log.WithField("module", "scheduler"),
	}
}

// Start begins the scheduler.
func (es *EscalationScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.log.Info("[Scheduler] Disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.nextRun = time.Now().Add(es.CheckInterval)
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	es.log.WithField("interval", es.CheckInterval.String()).Info("[Scheduler] Started")
}

// Stop stops the scheduler and waits for a running pass to finish.
func (es *EscalationScheduler) Stop() {
	es.mu.Lock()
	ticker, stop := es.ticker, es.stop
	es.ticker, es.stop = nil, nil
	es.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	es.wg.Wait()
	es.log.Info("[Scheduler] Stopped")
}

func (es *EscalationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			es.mu.Lock()
			es.nextRun = time.Now().Add(es.CheckInterval)
			es.mu.Unlock()
			es.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow runs one escalation pass and records it.
func (es *EscalationScheduler) RunNow(ctx context.Context) EscalationRun {
	run := EscalationRun{StartedAt: time.Now()}
	res, err := es.Engine.Escalate(ctx)
	run.Result = res
	run.CompletedAt = time.Now()
	if err != nil {
		run.Error = err.Error()
		es.log.WithError(err).Error("[Scheduler] Escalation failed")
	} else if res.Escalated > 0 {
		es.log.WithFields(logrus.Fields{
			"examined":  res.Examined,
			"escalated": res.Escalated,
		}).Info("[Scheduler] Completed")
	}

	es.mu.Lock()
	es.lastRun = &run
	es.mu.Unlock()
	return run
}

// LastRun returns the most recent pass, if any.
func (es *EscalationScheduler) LastRun() (EscalationRun, bool) {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.lastRun == nil {
		return EscalationRun{}, false
	}
	return *es.lastRun, true
}

// NextRunTime returns when the next scheduled check will occur, or the zero
// time if the scheduler is not running.
func (es *EscalationScheduler) NextRunTime() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()
	if es.ticker == nil {
		return time.Time{}
	}
	return es.nextRun
}
