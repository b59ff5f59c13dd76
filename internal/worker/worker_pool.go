// Package worker runs offline queue jobs against FBS on dedicated
// goroutines. Each offline queue owns one Pool with a single worker so
// checkouts and checkins reach FBS in the order they were made at the kiosk.
//
// Submit hands a Task to the next idle worker. Results come back on
// Results() / ReceiveResult(). Stop lets running calls finish; their
// results stay buffered for the queue to drain.
package worker

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrPoolClosed     = errors.New("worker: pool stopped")
	ErrPoolNotStarted = errors.New("worker: pool not started")
)

// Pool 一組共用任務與結果通道的 Worker
type Pool struct {
	exec     ExecFunc       // 任務邏輯
	workers  []*Worker      // 已啟動的 Worker
	taskCh   chan Task      // 任務通道
	resultCh chan Result    // 結果通道
	stopCh   chan struct{}  // 停止訊號
	wg       sync.WaitGroup // 等待所有 Worker 完成
	started  bool
	stopped  bool
	mu       sync.Mutex // 保護 started 和 stopped 狀態
}

// NewPool bufferSize 至少為 1，Stop 時執行中的任務結果才能放進緩衝區
func NewPool(bufferSize int, exec ExecFunc) *Pool {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Pool{
		exec:     exec,
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start 啟動 n 個 Worker
func (p *Pool) Start(n int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch {
	case p.started:
		return errors.New("worker: pool already started")
	case p.exec == nil:
		return errors.New("worker: pool has no exec func")
	case n > cap(p.resultCh):
		return fmt.Errorf("worker: %d workers exceed result buffer of %d", n, cap(p.resultCh))
	}

	for i := 0; i < n; i++ {
		w := newWorker(i, p.exec, p.taskCh, p.resultCh, p.stopCh)
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.Run()
		}()
	}

	p.started = true
	return nil
}

// Submit 阻塞到有 Worker 接手或 Pool 停止。
// taskCh 永不關閉，Stop 只關閉 stopCh。
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	started, stopped := p.started, p.stopped
	p.mu.Unlock()
	if !started {
		return ErrPoolNotStarted
	}
	if stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	case <-p.stopCh:
		return ErrPoolClosed
	}
}

// Results 回傳結果通道，供 select 使用；Stop 後會被關閉
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// ReceiveResult 阻塞到下一個結果或 Pool 停止
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Stop 不再派發新任務，等執行中的 FBS 呼叫結束後關閉 resultCh
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()
	close(p.resultCh)
}

// Size 已啟動的 Worker 數量
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}
