// ============================================================================
// fbs-kiosk Worker - Task Execution Unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Work unit that executes tasks, each Worker runs in an independent goroutine
//
// How it works:
//   1. Receive task from taskCh (blocking wait) until stopCh closes
//   2. Execute the injected ExecFunc under a per-task timeout
//   3. Send result to resultCh, also during Stop
//
// A panic inside ExecFunc is converted into an error Result so one bad
// ILS response cannot take the queue down.
//
// ============================================================================

package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

var log = slog.Default()

// Worker represents a work execution unit
type Worker struct {
	id       int           // Worker unique identifier, used for logging
	exec     ExecFunc      // Task logic
	taskCh   <-chan Task   // Task channel (read-only)
	resultCh chan<- Result // Result channel (write-only)
	stopCh   <-chan struct{}
}

// newWorker creates a new Worker instance
func newWorker(id int, exec ExecFunc, taskCh <-chan Task, resultCh chan<- Result, stopCh <-chan struct{}) *Worker {
	return &Worker{
		id:       id,
		exec:     exec,
		taskCh:   taskCh,
		resultCh: resultCh,
		stopCh:   stopCh,
	}
}

// Run is the main loop of Worker
func (w *Worker) Run() {
	for {
		select {
		case <-w.stopCh:
			return
		case task := <-w.taskCh:
			// 結果一律送出：Stop 等所有 Worker 結束後才關閉 resultCh，
			// 呼叫者會把緩衝區讀完
			w.resultCh <- w.runTask(task)
		}
	}
}

func (w *Worker) runTask(task Task) Result {
	start := time.Now()

	ctx := context.Background()
	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}
	value, err := w.execute(ctx, task)

	return Result{
		JobID:    task.ID,
		Value:    value,
		Error:    err,
		Duration: time.Since(start),
	}
}

// execute runs ExecFunc and recovers from panics
func (w *Worker) execute(ctx context.Context, task Task) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Worker panic", "worker", w.id, "job_id", task.ID, "panic", r)
			value, err = nil, fmt.Errorf("worker %d: panic: %v", w.id, r)
		}
	}()
	return w.exec(ctx, task)
}
