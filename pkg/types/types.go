// Package types 定義了 fbs-kiosk 離線佇列使用的核心領域模型
package types

import (
	"strconv"
	"time"
)

// Endpoint FBS 連線設定，啟動時從設定儲存載入一次，之後不再變動
type Endpoint struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Endpoint string `json:"endpoint"` // SIP2-over-HTTP 網址
	Agency   string `json:"agency"`   // AO 機構代碼
	Location string `json:"location"` // AP 館藏地點
}

// JobID 任務唯一識別碼（單調遞增，永不重複使用）
type JobID uint64

func (id JobID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// JobType 任務類型，每種類型對應一個獨立的佇列
type JobType string

const (
	JobCheckout JobType = "checkout" // 借出
	JobCheckin  JobType = "checkin"  // 歸還
)

// JobStatus 任務狀態
type JobStatus string

// 定義任務狀態常數
const (
	StatusWaiting JobStatus = "waiting" // 等待中：已入隊，尚未被 worker 取出
	StatusActive  JobStatus = "active"  // 執行中：已分派給 worker
	StatusDelayed JobStatus = "delayed" // 延遲中：暫時性失敗，等待退避時間到期
	StatusFailed  JobStatus = "failed"  // 失敗：業務拒絕或重試次數耗盡
)

// Payload 任務執行所需的借還資料
type Payload struct {
	PatronID       string `json:"patronIdentifier,omitempty"`
	PatronPassword string `json:"patronPassword,omitempty"`
	ItemIdentifier string `json:"itemIdentifier"`

	// Timestamp 交易時間（Unix 毫秒），每次（重新）提交時都會重新蓋章
	Timestamp int64 `json:"timestamp"`

	// NoBlock 強制 ILS 接受交易，離線重放時一律為 true
	NoBlock bool `json:"noBlock,omitempty"`
}

// TransactionTime 將 Timestamp 轉為 time.Time，零值代表「現在」
func (p Payload) TransactionTime() time.Time {
	if p.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(p.Timestamp)
}

// Job 任務結構，代表離線佇列中的一筆借還交易
type Job struct {
	// 識別與資料
	ID      JobID   `json:"id"`
	Type    JobType `json:"type"`
	Payload Payload `json:"payload"`

	// 完成/失敗時要發佈的匯流排事件名稱
	ResultEvent string `json:"resultEvent,omitempty"`
	ErrorEvent  string `json:"errorEvent,omitempty"`

	// 狀態追蹤
	Status       JobStatus `json:"status"`
	Attempt      int       `json:"attempt"`                // 已失敗的嘗試次數
	AvailableAt  int64     `json:"available_at,omitempty"` // 延遲任務可再次執行的時間（Unix 毫秒）
	FailedReason string    `json:"failed_reason,omitempty"`

	// 時間管理（Unix 毫秒）
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// FailedJob 對外公開的失敗任務檢視，已移除佇列內部簿記欄位
type FailedJob struct {
	ID           JobID   `json:"id"`
	Type         JobType `json:"type"`
	Payload      Payload `json:"data"`
	Attempts     int     `json:"attemptsMade"`
	FailedReason string  `json:"failedReason"`
	Timestamp    int64   `json:"timestamp"`
}

// Counts 各狀態任務數量
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
	Paused    int `json:"paused"`
}

// SnapshotData 快照資料，用於佇列狀態的持久化和恢復
type SnapshotData struct {
	Jobs      map[JobID]*Job `json:"jobs"`       // 所有尚未移除的任務
	Order     []JobID        `json:"order"`      // 等待中任務的 FIFO 順序
	NextID    JobID          `json:"next_id"`    // 下一個要配發的任務 ID
	Completed int            `json:"completed"`  // 已完成任務計數
	SchemaVer int            `json:"schema_ver"` // 資料結構版本號
	LastSeq   uint64         `json:"last_seq"`   // 最後處理的 WAL 序列號
}
