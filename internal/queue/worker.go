package queue

import (
	"context"
	"sync"
	"time"

	"github.com/cohort-dev/cohort/internal/common/config"
	"github.com/cohort-dev/cohort/internal/common/logger"
)

const (
	defaultDispatchInterval   = 5 * time.Second
	defaultCompletionInterval = 15 * time.Second
)

// Worker polls the task service on two cadences: a fast dispatch loop for
// PENDING tasks and a slower completion scan for RUNNING ones.
type Worker struct {
	svc *Service
	cfg config.WorkerConfig
	log *logger.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewWorker builds a worker; zero intervals fall back to defaults.
func NewWorker(svc *Service, cfg config.WorkerConfig, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Default()
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = defaultDispatchInterval
	}
	if cfg.CompletionInterval <= 0 {
		cfg.CompletionInterval = defaultCompletionInterval
	}
	return &Worker{svc: svc, cfg: cfg, log: log, stopCh: make(chan struct{})}
}

// Start launches the polling loops. Calling Start again is a no-op.
func (w *Worker) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(2)
		go w.loop(w.cfg.DispatchInterval, w.svc.DispatchPending)
		go w.loop(w.cfg.CompletionInterval, w.svc.CheckCompletions)
		w.log.Info("background worker started")
	})
}

// Stop halts the polling loops and waits for in-flight scans to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *Worker) loop(interval time.Duration, scan func(context.Context)) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			scan(context.Background())
		case <-w.stopCh:
			return
		}
	}
}
