package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// Task 代表要執行的任務
type Task struct {
	ID      types.JobID   // 任務唯一識別碼
	Job     types.Job     // 派發時的任務快照（含 NoBlock 與新的 Timestamp）
	Timeout time.Duration // 執行超時時間，0 代表不設限
}

// Result 代表任務執行結果
type Result struct {
	JobID    types.JobID   // 任務 ID
	Value    any           // ExecFunc 的回傳值（例如 *sip2.Response）
	Error    error         // 錯誤訊息（如果有）
	Duration time.Duration // 實際執行時間
}

// ExecFunc 實際執行任務的函式，由呼叫端（離線佇列）注入
type ExecFunc func(ctx context.Context, task Task) (any, error)
