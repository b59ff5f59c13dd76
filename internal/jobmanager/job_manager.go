// ============================================================================
// fbs-kiosk 任務管理器 - 離線佇列的任務狀態機
// ============================================================================
//
// Package: internal/jobmanager
// 文件: job_manager.go
// 功能: 管理單一離線佇列中任務的完整生命週期和狀態轉換
//
// 任務狀態轉換 (State Machine):
//   Waiting (等待中)
//      ↓ PopPending() + MarkActive()
//   Active (執行中)
//      ├─ Complete()   → 移除（只留下計數）
//      ├─ Retry()      → Delayed（退避時間到後 PromoteDue() 回到 Waiting 尾端）
//      ├─ MarkFailed() → Failed（業務拒絕或重試次數耗盡）
//      ├─ Remove()     → 移除（離線時以新任務重新入隊）
//      └─ Requeue()    → Waiting 開頭（崩潰恢復）
//
// 數據結構設計:
//   jobs map[JobID]*Job - 主存儲，包含所有尚未移除的任務
//   queue []JobID       - waiting 任務隊列，保證 FIFO
//   active/delayed/failed map - 狀態索引
//
// 並發安全:
//   - 使用 sync.RWMutex 保護所有數據結構
//   - 對外只回傳任務副本，避免呼叫端與內部狀態共享指標
//
// ============================================================================

package jobmanager

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// 任務 ID 重複錯誤
	ErrDuplicateJob = errors.New("job already exists")
	// 任務不在執行中狀態
	ErrNotActive = errors.New("job not active")
	// 任務不在等待中狀態
	ErrNotWaiting = errors.New("job not waiting")
	// 任務不存在
	ErrJobNotFound = errors.New("job not found")
)

// JobManager 代表單一佇列的任務管理器
type JobManager struct {
	mu        sync.RWMutex
	jobs      map[types.JobID]*types.Job // 所有任務的統一儲存，透過 Status 欄位區分狀態
	queue     []types.JobID              // 等待中佇列
	active    map[types.JobID]*types.Job // 執行中任務
	delayed   map[types.JobID]*types.Job // 延遲重試任務
	failed    map[types.JobID]*types.Job // 失敗任務
	nextID    types.JobID                // 下一個配發的 ID
	completed int                        // 已完成（並已移除）的任務數
}

// NewJobManager 建立新的任務管理器實例，ID 從 1 開始配發
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:    make(map[types.JobID]*types.Job),
		queue:   make([]types.JobID, 0),
		active:  make(map[types.JobID]*types.Job),
		delayed: make(map[types.JobID]*types.Job),
		failed:  make(map[types.JobID]*types.Job),
		nextID:  1,
	}
}

// Enqueue 配發新的任務 ID，並將任務加入等待佇列尾端
//
// 傳入任務的 ID 會被忽略；ID 單調遞增且不會重複使用。
//
// 併發安全：使用互斥鎖保護
func (jm *JobManager) Enqueue(job types.Job) types.Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job.ID = jm.nextID
	jm.nextID++

	jm.insertLocked(&job)
	return job
}

// Insert 以既有 ID 加入任務（WAL 重放時使用）
//
// 錯誤處理：
//   - ErrDuplicateJob: 任務 ID 已存在於系統中
func (jm *JobManager) Insert(job types.Job) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[job.ID]; exists {
		return ErrDuplicateJob
	}
	if job.ID >= jm.nextID {
		jm.nextID = job.ID + 1
	}

	jm.insertLocked(&job)
	return nil
}

func (jm *JobManager) insertLocked(job *types.Job) {
	now := time.Now().UnixMilli()
	job.Status = types.StatusWaiting
	job.AvailableAt = 0
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	jm.jobs[job.ID] = job
	jm.queue = append(jm.queue, job.ID)
}

// PopPending 取出第一個等待中的任務（不改變其狀態），沒有任務時回傳 nil
func (jm *JobManager) PopPending() *types.Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	for len(jm.queue) > 0 {
		jobID := jm.queue[0]
		jm.queue = jm.queue[1:]

		// 已被移除的任務可能還留在佇列中
		if job, ok := jm.jobs[jobID]; ok && job.Status == types.StatusWaiting {
			jobCopy := *job
			return &jobCopy
		}
	}
	return nil
}

// MarkActive 將任務標記為執行中狀態，並寫回分派時更新過的 Payload
func (jm *JobManager) MarkActive(jobID types.JobID, payload types.Payload) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.StatusWaiting {
		return ErrNotWaiting
	}

	job.Status = types.StatusActive
	job.Payload = payload
	job.UpdatedAt = time.Now().UnixMilli()
	jm.active[jobID] = job

	// WAL 重放時任務未經 PopPending，仍留在佇列中
	for i, id := range jm.queue {
		if id == jobID {
			jm.queue = append(jm.queue[:i], jm.queue[i+1:]...)
			break
		}
	}
	return nil
}

// Complete 完成任務：從系統移除，只留下計數
func (jm *JobManager) Complete(jobID types.JobID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.StatusActive {
		return ErrNotActive
	}

	delete(jm.active, jobID)
	delete(jm.jobs, jobID)
	jm.completed++
	return nil
}

// Retry 增加重試次數並將任務移至延遲集合，直到 availableAt 才能再次執行
func (jm *JobManager) Retry(jobID types.JobID, availableAt time.Time, reason string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.StatusActive {
		return ErrNotActive
	}

	job.Attempt++
	job.Status = types.StatusDelayed
	job.AvailableAt = availableAt.UnixMilli()
	job.FailedReason = reason
	job.UpdatedAt = time.Now().UnixMilli()

	delete(jm.active, jobID)
	jm.delayed[jobID] = job
	return nil
}

// PromoteDue 將到期的延遲任務依 ID 順序移回等待佇列尾端
func (jm *JobManager) PromoteDue(now time.Time) []types.JobID {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	nowMs := now.UnixMilli()
	var due []types.JobID
	for jobID, job := range jm.delayed {
		if job.AvailableAt <= nowMs {
			due = append(due, jobID)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })

	for _, jobID := range due {
		job := jm.delayed[jobID]
		delete(jm.delayed, jobID)
		job.Status = types.StatusWaiting
		job.AvailableAt = 0
		job.UpdatedAt = nowMs
		jm.queue = append(jm.queue, jobID)
	}
	return due
}

// MarkFailed 將任務標記為失敗（終止狀態）
//
// attempted 為 true 時代表這次執行也算一次嘗試
func (jm *JobManager) MarkFailed(jobID types.JobID, reason string, attempted bool) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}

	if attempted {
		job.Attempt++
	}
	job.Status = types.StatusFailed
	job.FailedReason = reason
	job.AvailableAt = 0
	job.UpdatedAt = time.Now().UnixMilli()

	delete(jm.active, jobID)
	delete(jm.delayed, jobID)
	jm.failed[jobID] = job
	return nil
}

// Remove 從系統中移除任務（不論狀態）
func (jm *JobManager) Remove(jobID types.JobID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	if _, exists := jm.jobs[jobID]; !exists {
		return ErrJobNotFound
	}

	delete(jm.jobs, jobID)
	delete(jm.active, jobID)
	delete(jm.delayed, jobID)
	delete(jm.failed, jobID)
	// queue 中殘留的 ID 由 PopPending 略過
	return nil
}

// Requeue 將執行中任務放回等待佇列開頭（崩潰恢復用，保留原本順序）
func (jm *JobManager) Requeue(jobID types.JobID) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[jobID]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != types.StatusActive {
		return ErrNotActive
	}

	job.Status = types.StatusWaiting
	job.UpdatedAt = time.Now().UnixMilli()
	delete(jm.active, jobID)
	jm.queue = append([]types.JobID{jobID}, jm.queue...)
	return nil
}

// GetAllActiveJobs 取得所有執行中的任務 ID（依 ID 排序）
func (jm *JobManager) GetAllActiveJobs() []types.JobID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	ids := make([]types.JobID, 0, len(jm.active))
	for jobID := range jm.active {
		ids = append(ids, jobID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Waiting 依 FIFO 順序回傳等待中任務的 ID
func (jm *JobManager) Waiting() []types.JobID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.waitingLocked()
}

func (jm *JobManager) waitingLocked() []types.JobID {
	ids := make([]types.JobID, 0, len(jm.queue))
	for _, jobID := range jm.queue {
		if job, ok := jm.jobs[jobID]; ok && job.Status == types.StatusWaiting {
			ids = append(ids, jobID)
		}
	}
	return ids
}

// Failed 依 ID 順序回傳失敗任務的副本
func (jm *JobManager) Failed() []types.Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]types.Job, 0, len(jm.failed))
	for _, job := range jm.failed {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// Stats 取得各狀態任務的統計資訊（Paused 由佇列層決定）
func (jm *JobManager) Stats() types.Counts {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	return types.Counts{
		Waiting:   len(jm.waitingLocked()),
		Active:    len(jm.active),
		Completed: jm.completed,
		Failed:    len(jm.failed),
		Delayed:   len(jm.delayed),
	}
}

// NextID 下一個要配發的 ID；小於它的 ID 都已經配發過
func (jm *JobManager) NextID() types.JobID {
	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return jm.nextID
}

// GetJob 取得任務副本
func (jm *JobManager) GetJob(jobID types.JobID) (types.Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, ok := jm.jobs[jobID]
	if !ok {
		return types.Job{}, false
	}
	return *job, true
}

// ============================================================================
// 快照與恢復相關方法
// ============================================================================

// Restore 從快照恢復狀態，等待佇列順序依 data.Order 重建
func (jm *JobManager) Restore(data types.SnapshotData) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	jm.jobs = make(map[types.JobID]*types.Job)
	jm.queue = make([]types.JobID, 0)
	jm.active = make(map[types.JobID]*types.Job)
	jm.delayed = make(map[types.JobID]*types.Job)
	jm.failed = make(map[types.JobID]*types.Job)
	jm.completed = data.Completed
	jm.nextID = data.NextID
	if jm.nextID == 0 {
		jm.nextID = 1
	}

	for jobID, job := range data.Jobs {
		jobCopy := *job
		jm.jobs[jobID] = &jobCopy
		if jobID >= jm.nextID {
			jm.nextID = jobID + 1
		}

		switch jobCopy.Status {
		case types.StatusActive:
			jm.active[jobID] = &jobCopy
		case types.StatusDelayed:
			jm.delayed[jobID] = &jobCopy
		case types.StatusFailed:
			jm.failed[jobID] = &jobCopy
		}
	}

	seen := make(map[types.JobID]bool, len(data.Order))
	for _, jobID := range data.Order {
		if job, ok := jm.jobs[jobID]; ok && job.Status == types.StatusWaiting && !seen[jobID] {
			jm.queue = append(jm.queue, jobID)
			seen[jobID] = true
		}
	}

	// 順序資訊缺失的等待中任務依 ID 補在尾端
	var missing []types.JobID
	for jobID, job := range jm.jobs {
		if job.Status == types.StatusWaiting && !seen[jobID] {
			missing = append(missing, jobID)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	jm.queue = append(jm.queue, missing...)

	return nil
}

// Snapshot 生成快照資料（深拷貝）
func (jm *JobManager) Snapshot() types.SnapshotData {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobsCopy := make(map[types.JobID]*types.Job, len(jm.jobs))
	for id, job := range jm.jobs {
		jobCopy := *job
		jobsCopy[id] = &jobCopy
	}

	return types.SnapshotData{
		Jobs:      jobsCopy,
		Order:     jm.waitingLocked(),
		NextID:    jm.nextID,
		Completed: jm.completed,
		SchemaVer: 1,
	}
}
