// ============================================================================
// fbs-kiosk 離線佇列 - 斷線期間的借還交易重放
// ============================================================================
//
// Package: internal/offline
// 文件: queue.go
// 功能: 每種交易（借出/歸還）一個佇列，FBS 恢復連線後依序重放
//
// 架構設計:
//   - JobManager: 任務狀態（waiting/active/delayed/failed）
//   - WAL: 每個狀態變更先寫日誌，崩潰後可重放
//   - Snapshot Store: 定期保存完整狀態（檔案或 Redis）
//   - WorkerPool: 單一 Worker，一次只處理一筆，保持借還順序
//
// 核心循環 (4 個並發 Goroutine):
//   1. Dispatch Loop - 佇列執行中且沒有任務在途時，取出下一筆交給 worker
//   2. Result Loop - 依 FBS 回應決定完成、失敗、重試或重新入隊
//   3. Delay Loop - 將退避時間到期的任務移回等待佇列
//   4. Snapshot Loop - 定期快照並旋轉 WAL
//
// 結果處理:
//   回應 OK             → 移除，completed++，發佈 ResultEvent
//   回應不 OK           → 失敗（螢幕訊息為原因），發佈 ErrorEvent
//   ErrOffline          → 移除，以新 ID 重新加入佇列尾端
//   ProtocolError       → 失敗
//   其他錯誤            → 退避重試 BaseDelay * 2^(n-1)，共 MaxAttempts 次
//
// 佇列狀態:
//   初始為暫停；只有連線事件會切換 Pause/Resume。暫停只停止取新任務，
//   在途的 FBS 呼叫會正常完成。
//
// ============================================================================

package offline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/fbs"
	"github.com/ChuLiYu/fbs-kiosk/internal/jobmanager"
	"github.com/ChuLiYu/fbs-kiosk/internal/metrics"
	"github.com/ChuLiYu/fbs-kiosk/internal/sip2"
	"github.com/ChuLiYu/fbs-kiosk/internal/snapshot"
	"github.com/ChuLiYu/fbs-kiosk/internal/storage/wal"
	"github.com/ChuLiYu/fbs-kiosk/internal/worker"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

var log = slog.Default()

// 預設值
const (
	DefaultMaxAttempts      = 5
	DefaultBaseDelay        = 10 * time.Second
	DefaultTaskTimeout      = 30 * time.Second
	DefaultSnapshotInterval = time.Minute
	DefaultDispatchInterval = 100 * time.Millisecond
	DefaultDelayInterval    = time.Second
)

var (
	// ErrQueueStopped 佇列已停止
	ErrQueueStopped = errors.New("offline: queue stopped")
	// ErrEmptyResponse FBS 呼叫沒有錯誤也沒有回應
	ErrEmptyResponse = errors.New("offline: empty FBS response")
)

// ============================================================================
// 資料結構定義
// ============================================================================

// Processor 執行一筆交易，通常是 (*fbs.Client).Checkout 或 Checkin
type Processor func(ctx context.Context, p types.Payload) (*sip2.Response, error)

// Config 佇列配置
type Config struct {
	Type             types.JobType // 佇列名稱（checkout / checkin）
	MaxAttempts      int           // 含第一次在內的最大嘗試次數
	BaseDelay        time.Duration // 第一次重試的延遲
	TaskTimeout      time.Duration // 單次 FBS 呼叫上限
	SnapshotInterval time.Duration // 快照間隔
	DispatchInterval time.Duration // 取任務的輪詢間隔
	DelayInterval    time.Duration // 延遲任務檢查間隔
	WALPath          string        // WAL 檔案路徑
	SyncWAL          bool          // 每次追加都 fsync
}

func (c *Config) setDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = DefaultTaskTimeout
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = DefaultSnapshotInterval
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = DefaultDispatchInterval
	}
	if c.DelayInterval <= 0 {
		c.DelayInterval = DefaultDelayInterval
	}
}

// Backoff 第 attempt 次失敗後的等待時間：base * 2^(attempt-1)
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// Queue 單一交易類型的離線佇列
type Queue struct {
	mu         sync.Mutex             // 保護 jobManager 操作與 WAL 順序
	jobManager *jobmanager.JobManager // 任務狀態管理
	wal        *wal.WAL               // Write-Ahead Log
	store      snapshot.Store         // 快照儲存
	pool       *worker.Pool           // 單一 Worker
	process    Processor
	bus        bus.Bus
	metrics    *metrics.Collector
	config     Config

	paused   bool
	inFlight bool
	started  bool
	stopped  bool

	kickCh    chan struct{} // 立即嘗試分派
	stopCh    chan struct{} // 停止訊號
	loopWg    sync.WaitGroup
	startTime time.Time
}

// Option 設定 Queue
type Option func(*Queue)

// WithBus 完成/失敗時發佈任務的 ResultEvent / ErrorEvent
func WithBus(b bus.Bus) Option {
	return func(q *Queue) { q.bus = b }
}

// WithMetrics 記錄佇列指標
func WithMetrics(m *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = m }
}

// NewQueue 建立佇列並開啟 WAL；呼叫 Start 之前不會處理任何任務
func NewQueue(config Config, process Processor, store snapshot.Store, opts ...Option) (*Queue, error) {
	if config.Type == "" {
		return nil, errors.New("offline: queue type is required")
	}
	if process == nil {
		return nil, errors.New("offline: processor is required")
	}
	config.setDefaults()

	w, err := wal.NewWAL(config.WALPath, config.SyncWAL)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL: %w", err)
	}

	q := &Queue{
		jobManager: jobmanager.NewJobManager(),
		wal:        w,
		store:      store,
		process:    process,
		config:     config,
		paused:     true,
		kickCh:     make(chan struct{}, 1),
		stopCh:     make(chan struct{}),
	}
	q.pool = worker.NewPool(1, q.execute)
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Type 佇列名稱
func (q *Queue) Type() types.JobType {
	return q.config.Type
}

// ============================================================================
// 生命週期
// ============================================================================

// Start 恢復狀態後啟動 Worker 與四個循環；佇列維持暫停直到 Resume
func (q *Queue) Start() error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return errors.New("offline: queue already started")
	}
	q.started = true
	q.mu.Unlock()

	q.startTime = time.Now()
	if err := q.recover(); err != nil {
		return err
	}
	if err := q.takeSnapshot(); err != nil {
		return fmt.Errorf("failed to snapshot recovered state: %w", err)
	}

	if err := q.pool.Start(1); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	q.metrics.SetPaused(string(q.config.Type), q.IsPaused())
	q.refreshStats()

	q.loopWg.Add(4)
	go q.dispatchLoop()
	go q.resultLoop()
	go q.delayLoop()
	go q.snapshotLoop()

	log.Info("Offline queue started", "queue", q.config.Type, "paused", q.IsPaused())
	return nil
}

// recover 快照 -> WAL 重放 -> 執行中任務放回佇列開頭
func (q *Queue) recover() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	data, err := q.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	if err := q.jobManager.Restore(data); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	q.wal.EnsureSeq(data.LastSeq)

	replayed := 0
	err = q.wal.Replay(data.LastSeq, func(event wal.Event) error {
		replayed++
		return q.apply(event)
	})
	if errors.Is(err, wal.ErrCorruptedWAL) || errors.Is(err, wal.ErrChecksumMismatch) {
		// 保留損毀之前已套用的狀態；Start 隨即快照並旋轉掉這個檔案
		log.Warn("WAL is damaged, keeping replayed events", "queue", q.config.Type, "error", err)
	} else if err != nil {
		return fmt.Errorf("replayWAL failed: %w", err)
	}

	requeued := 0
	for _, jobID := range q.jobManager.GetAllActiveJobs() {
		if err := q.jobManager.Requeue(jobID); err != nil {
			log.Error("Failed to requeue active job during recovery", "queue", q.config.Type, "jobID", jobID, "error", err)
			continue
		}
		requeued++
	}

	d := time.Since(q.startTime)
	q.metrics.SetRecoveryTime(string(q.config.Type), d)
	log.Info("Recovery completed",
		"queue", q.config.Type,
		"duration", d,
		"snapshot_jobs", len(data.Jobs),
		"replayed_events", replayed,
		"requeued_jobs", requeued)
	return nil
}

// apply 套用一個 WAL 事件；重複套用不會出錯
func (q *Queue) apply(event wal.Event) error {
	jm := q.jobManager
	current, exists := jm.GetJob(event.JobID)

	switch event.Type {
	case wal.EventEnqueue:
		if exists || event.JobID < jm.NextID() {
			return nil
		}
		return jm.Insert(event.Job)

	case wal.EventDispatch:
		if exists && current.Status == types.StatusWaiting {
			return jm.MarkActive(event.JobID, event.Job.Payload)
		}

	case wal.EventAck:
		if exists && current.Status == types.StatusActive {
			return jm.Complete(event.JobID)
		}

	case wal.EventRetry:
		if exists && current.Status == types.StatusActive {
			return jm.Retry(event.JobID, time.UnixMilli(event.Job.AvailableAt), event.Job.FailedReason)
		}

	case wal.EventPromote:
		jm.PromoteDue(time.UnixMilli(event.Timestamp))

	case wal.EventDead:
		if exists && current.Status != types.StatusFailed {
			return jm.MarkFailed(event.JobID, event.Job.FailedReason, event.Job.Attempt > current.Attempt)
		}

	case wal.EventRemove:
		if exists {
			return jm.Remove(event.JobID)
		}
	}
	return nil
}

// Stop 停止循環，等待在途任務，寫入最後一次快照後關閉 WAL
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	log.Info("Stopping offline queue...", "queue", q.config.Type)
	close(q.stopCh)

	if started {
		q.pool.Stop()
		q.loopWg.Wait()

		// Stop 期間完成的結果還留在緩衝區
		for result := range q.pool.Results() {
			q.handleResult(result)
		}

		if err := q.takeSnapshot(); err != nil {
			log.Error("Failed to take final snapshot", "queue", q.config.Type, "error", err)
		}
	}

	if err := q.wal.Close(); err != nil {
		log.Error("Failed to close WAL", "queue", q.config.Type, "error", err)
	}
	log.Info("Offline queue stopped", "queue", q.config.Type)
}

// ============================================================================
// 公開方法
// ============================================================================

// Enqueue 寫入 WAL 並加入等待佇列；不論佇列是否暫停都會接受
func (q *Queue) Enqueue(job types.Job) (types.JobID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return 0, ErrQueueStopped
	}
	return q.enqueueLocked(job)
}

func (q *Queue) enqueueLocked(job types.Job) (types.JobID, error) {
	job.Type = q.config.Type
	job.Attempt = 0
	job.FailedReason = ""
	job.CreatedAt = 0

	added := q.jobManager.Enqueue(job)
	if err := q.wal.Append(wal.EventEnqueue, added); err != nil {
		q.jobManager.Remove(added.ID)
		return 0, fmt.Errorf("failed to append ENQUEUE event: %w", err)
	}

	q.metrics.RecordEnqueue(string(q.config.Type))
	q.kick()
	return added.ID, nil
}

// Pause 停止取出新任務；在途任務不受影響
func (q *Queue) Pause() {
	q.setPaused(true)
}

// Resume 恢復處理
func (q *Queue) Resume() {
	q.setPaused(false)
	q.kick()
}

func (q *Queue) setPaused(paused bool) {
	q.mu.Lock()
	changed := q.paused != paused
	q.paused = paused
	q.mu.Unlock()

	if changed {
		log.Info("Offline queue state changed", "queue", q.config.Type, "paused", paused)
		q.metrics.SetPaused(string(q.config.Type), paused)
	}
}

// IsPaused 佇列是否暫停
func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Counts 各狀態數量；暫停時等待中的任務計為 paused
func (q *Queue) Counts() types.Counts {
	counts := q.jobManager.Stats()
	if q.IsPaused() {
		counts.Paused = counts.Waiting
		counts.Waiting = 0
	}
	return counts
}

// FailedJobs 依 ID 排序的失敗任務，不含事件名稱等佇列欄位
func (q *Queue) FailedJobs() []types.FailedJob {
	failed := q.jobManager.Failed()
	out := make([]types.FailedJob, 0, len(failed))
	for _, job := range failed {
		out = append(out, types.FailedJob{
			ID:           job.ID,
			Type:         job.Type,
			Payload:      job.Payload,
			Attempts:     job.Attempt,
			FailedReason: job.FailedReason,
			Timestamp:    job.CreatedAt,
		})
	}
	return out
}

// Job 取得任務副本（測試與管理介面使用）
func (q *Queue) Job(id types.JobID) (types.Job, bool) {
	return q.jobManager.GetJob(id)
}

// Waiting 等待中任務 ID，依處理順序
func (q *Queue) Waiting() []types.JobID {
	return q.jobManager.Waiting()
}

// ============================================================================
// 四個核心循環
// ============================================================================

func (q *Queue) kick() {
	select {
	case q.kickCh <- struct{}{}:
	default:
	}
}

// dispatchLoop 佇列執行中且沒有在途任務時分派下一筆
func (q *Queue) dispatchLoop() {
	defer q.loopWg.Done()
	ticker := time.NewTicker(q.config.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
		case <-q.kickCh:
		}
		q.dispatchNext()
	}
}

func (q *Queue) dispatchNext() {
	q.mu.Lock()
	if q.paused || q.inFlight || q.stopped {
		q.mu.Unlock()
		return
	}

	job := q.jobManager.PopPending()
	if job == nil {
		q.mu.Unlock()
		return
	}

	// 離線交易一律強制接受，交易時間為實際送出的時間
	job.Payload.NoBlock = true
	job.Payload.Timestamp = time.Now().UnixMilli()

	if err := q.jobManager.MarkActive(job.ID, job.Payload); err != nil {
		log.Error("Failed to mark active", "queue", q.config.Type, "jobID", job.ID, "error", err)
		q.mu.Unlock()
		return
	}
	job.Status = types.StatusActive
	if err := q.wal.Append(wal.EventDispatch, *job); err != nil {
		log.Error("Failed to append DISPATCH event", "queue", q.config.Type, "error", err)
		if err := q.jobManager.Requeue(job.ID); err != nil {
			log.Error("Failed to requeue job", "queue", q.config.Type, "jobID", job.ID, "error", err)
		}
		q.mu.Unlock()
		return
	}
	q.inFlight = true
	q.mu.Unlock()

	q.metrics.RecordDispatch(string(q.config.Type))
	task := worker.Task{ID: job.ID, Job: *job, Timeout: q.config.TaskTimeout}
	err := q.pool.Submit(task)
	if err == nil || errors.Is(err, worker.ErrPoolClosed) {
		// ErrPoolClosed: Stop 期間，任務維持 active，下次啟動時重新排隊
		return
	}

	// 任務從未送出：放回佇列開頭，重放時 DISPATCH 後的 active 任務同樣回到開頭
	log.Error("Failed to submit task", "queue", q.config.Type, "jobID", job.ID, "error", err)
	q.mu.Lock()
	q.inFlight = false
	if err := q.jobManager.Requeue(job.ID); err != nil {
		log.Error("Failed to requeue job", "queue", q.config.Type, "jobID", job.ID, "error", err)
	}
	q.mu.Unlock()
}

func (q *Queue) execute(ctx context.Context, task worker.Task) (any, error) {
	resp, err := q.process(ctx, task.Job.Payload)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrEmptyResponse
	}
	return resp, nil
}

// resultLoop 處理 Worker 結果，直到 Pool 關閉
func (q *Queue) resultLoop() {
	defer q.loopWg.Done()
	for {
		result, err := q.pool.ReceiveResult()
		if err != nil {
			return
		}
		q.handleResult(result)
	}
}

type report struct {
	env    bus.Envelope
	result any
	err    error
}

func (q *Queue) handleResult(result worker.Result) {
	q.mu.Lock()
	q.inFlight = false

	job, ok := q.jobManager.GetJob(result.JobID)
	if !ok || job.Status != types.StatusActive {
		q.mu.Unlock()
		log.Warn("Result for unknown job", "queue", q.config.Type, "jobID", result.JobID)
		return
	}

	resp, _ := result.Value.(*sip2.Response)
	r := q.resolveLocked(job, resp, result.Error)
	q.mu.Unlock()

	q.refreshStats()
	if r != nil && q.bus != nil {
		bus.Reply(q.bus, r.env, r.result, r.err)
	}
	q.kick()
}

// resolveLocked 依結果轉換任務狀態，回傳要發佈的通知（可能為 nil）
func (q *Queue) resolveLocked(job types.Job, resp *sip2.Response, execErr error) *report {
	name := string(q.config.Type)
	env := bus.Envelope{BusEvent: job.ResultEvent, ErrorEvent: job.ErrorEvent}
	if execErr == nil && resp == nil {
		execErr = ErrEmptyResponse
	}

	switch {
	case execErr == nil && resp.OK():
		if err := q.wal.Append(wal.EventAck, job); err != nil {
			log.Error("Failed to append ACK event", "queue", name, "error", err)
			return nil
		}
		if err := q.jobManager.Complete(job.ID); err != nil {
			log.Error("Failed to complete job", "queue", name, "jobID", job.ID, "error", err)
		}
		q.metrics.RecordCompleted(name, time.Since(time.UnixMilli(job.CreatedAt)))
		log.Debug("Job completed", "queue", name, "jobID", job.ID)
		return &report{env: env, result: resp}

	case execErr == nil:
		reason := resp.ScreenMessage()
		if reason == "" {
			reason = "rejected by FBS"
		}
		return q.failLocked(job, env, reason)

	case fbs.IsOffline(execErr):
		return q.reenqueueLocked(job)

	case fbs.IsProtocol(execErr):
		return q.failLocked(job, env, execErr.Error())
	}

	attempts := job.Attempt + 1
	if attempts >= q.config.MaxAttempts {
		return q.failLocked(job, env, execErr.Error())
	}

	delay := Backoff(q.config.BaseDelay, attempts)
	job.Attempt = attempts
	job.Status = types.StatusDelayed
	job.AvailableAt = time.Now().Add(delay).UnixMilli()
	job.FailedReason = execErr.Error()
	if err := q.wal.Append(wal.EventRetry, job); err != nil {
		log.Error("Failed to append RETRY event", "queue", name, "error", err)
		return nil
	}
	if err := q.jobManager.Retry(job.ID, time.UnixMilli(job.AvailableAt), job.FailedReason); err != nil {
		log.Error("Failed to retry job", "queue", name, "jobID", job.ID, "error", err)
	}
	q.metrics.RecordRetry(name)
	log.Debug("Job delayed", "queue", name, "jobID", job.ID, "attempt", attempts, "delay", delay, "error", execErr)
	return nil
}

func (q *Queue) failLocked(job types.Job, env bus.Envelope, reason string) *report {
	name := string(q.config.Type)
	job.Attempt++
	job.Status = types.StatusFailed
	job.FailedReason = reason
	if err := q.wal.Append(wal.EventDead, job); err != nil {
		log.Error("Failed to append DEAD event", "queue", name, "error", err)
		return nil
	}
	if err := q.jobManager.MarkFailed(job.ID, reason, true); err != nil {
		log.Error("Failed to mark failed", "queue", name, "jobID", job.ID, "error", err)
	}
	q.metrics.RecordFailed(name)
	log.Warn("Job failed", "queue", name, "jobID", job.ID, "attempts", job.Attempt, "reason", reason)
	return &report{env: env, err: errors.New(reason)}
}

// reenqueueLocked FBS 離線：舊任務移除，資料以新 ID 放到佇列尾端
func (q *Queue) reenqueueLocked(job types.Job) *report {
	name := string(q.config.Type)
	if err := q.wal.Append(wal.EventRemove, job); err != nil {
		log.Error("Failed to append REMOVE event", "queue", name, "error", err)
		return nil
	}
	if err := q.jobManager.Remove(job.ID); err != nil {
		log.Error("Failed to remove job", "queue", name, "jobID", job.ID, "error", err)
	}

	id, err := q.enqueueLocked(types.Job{
		Payload:     job.Payload,
		ResultEvent: job.ResultEvent,
		ErrorEvent:  job.ErrorEvent,
	})
	if err != nil {
		log.Error("Failed to re-enqueue offline job", "queue", name, "jobID", job.ID, "error", err)
		return nil
	}
	q.metrics.RecordRequeue(name)
	log.Info("FBS off-line, job re-enqueued", "queue", name, "jobID", job.ID, "newJobID", id)
	return nil
}

// delayLoop 將到期的延遲任務移回等待佇列
func (q *Queue) delayLoop() {
	defer q.loopWg.Done()
	ticker := time.NewTicker(q.config.DelayInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if q.promoteDue() > 0 {
				q.kick()
			}
			q.refreshStats()
		}
	}
}

func (q *Queue) promoteDue() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	due := q.jobManager.PromoteDue(time.Now())
	for _, jobID := range due {
		job, _ := q.jobManager.GetJob(jobID)
		if err := q.wal.Append(wal.EventPromote, job); err != nil {
			log.Error("Failed to append PROMOTE event", "queue", q.config.Type, "error", err)
		}
	}
	return len(due)
}

func (q *Queue) refreshStats() {
	q.metrics.UpdateQueueStats(string(q.config.Type), q.Counts())
}

// snapshotLoop 定期生成快照
func (q *Queue) snapshotLoop() {
	defer q.loopWg.Done()
	ticker := time.NewTicker(q.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			if err := q.takeSnapshot(); err != nil {
				log.Error("Failed to take snapshot", "queue", q.config.Type, "error", err)
			}
		}
	}
}

// takeSnapshot 寫入快照並旋轉 WAL
//
// 整個過程持有鎖：旋轉前不能有新事件寫入舊檔
func (q *Queue) takeSnapshot() error {
	start := time.Now()
	q.mu.Lock()
	defer q.mu.Unlock()

	data := q.jobManager.Snapshot()
	data.LastSeq = q.wal.GetLastSeq()

	if err := q.store.Write(data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := q.wal.Rotate(); err != nil {
		return fmt.Errorf("failed to rotate WAL: %w", err)
	}

	log.Debug("Snapshot taken",
		"queue", q.config.Type,
		"duration", time.Since(start),
		"jobs", len(data.Jobs),
		"last_seq", data.LastSeq)
	return nil
}
