package wal

// ============================================================================
// 離線佇列預寫日誌
// 每一次任務狀態轉換先寫入這裡，再改動記憶體中的佇列：
//   ENQUEUE → DISPATCH → ACK / RETRY → PROMOTE / DEAD / REMOVE
// 每行一個 JSON 事件，帶 xxhash 校驗；快照完成後旋轉成 <path>.1
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// FileInterface 是 WAL 對底層檔案的最小需求，測試可替換為會失敗的檔案
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// WAL 單一佇列的日誌檔
type WAL struct {
	mu     sync.Mutex
	file   FileInterface
	enc    *json.Encoder
	path   string
	seq    uint64 // 最後配發的序號，旋轉後不歸零
	fsync  bool   // 每筆事件都 fsync；kiosk 斷電時不遺失借還
	closed bool
}

// ============================================================================
// 公開介面
// ============================================================================

// NewWAL 開啟 path（不存在則建立），序號從檔案中最後一個完好事件接續
func NewWAL(path string, fsync bool) (*WAL, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	var last uint64
	if st, statErr := file.Stat(); statErr == nil && st.Size() > 0 {
		// 尾端損毀時仍會拿到最後一個完好事件
		if ev, err := GetLastEvent(path); ev != nil {
			last = ev.Seq
		} else if err != nil && !errors.Is(err, ErrEmptyWAL) {
			log.Warn("Failed to read last WAL event", "path", path, "error", err)
		}
	}

	return &WAL{file: file, enc: json.NewEncoder(file), path: path, seq: last, fsync: fsync}, nil
}

// Append 記錄 job 轉換後的完整狀態
func (w *WAL) Append(eventType EventType, job types.Job) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}

	w.seq++
	ev := Event{Seq: w.seq, Type: eventType, JobID: job.ID, Job: job, Timestamp: time.Now().UnixMilli()}
	ev.Checksum = CalculateChecksum(ev)

	if err := w.enc.Encode(ev); err != nil {
		return fmt.Errorf("wal: append seq=%d: %w", ev.Seq, err)
	}
	if w.fsync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("%w: %v", ErrSyncFailed, err)
		}
	}
	return nil
}

// Replay 依序把 seq > afterSeq 的事件交給 handler。
// 第一個損毀或校驗失敗的事件會中止重放，之前已套用的事件保留。
func (w *WAL) Replay(afterSeq uint64, handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Open(w.path)
	if err != nil {
		return err
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	var good uint64
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return &CorruptionError{Seq: good, Offset: dec.InputOffset(), Cause: err}
		}
		if err := VerifyChecksum(ev); err != nil {
			return err
		}
		good = ev.Seq

		if ev.Seq <= afterSeq {
			continue // 已在快照中
		}
		if err := handler(ev); err != nil {
			return fmt.Errorf("wal: replay seq=%d: %w", ev.Seq, err)
		}
	}
	return nil
}

// Rotate 旋轉日誌檔案：舊檔保留為 <path>.1，新檔從空白開始
//
// seq 不歸零，快照中記錄的 LastSeq 才能判斷哪些事件需要重放
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	if err := os.Rename(w.path, w.path+".1"); err != nil {
		return err
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.enc = json.NewEncoder(f)
	return nil
}

// EnsureSeq 確保下一個事件的序號大於 min（從快照恢復後呼叫）
func (w *WAL) EnsureSeq(min uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.seq < min {
		w.seq = min
	}
}

// Close 關閉 WAL；關閉後的實例不可再使用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.file.Sync(); err != nil {
		w.file.Close()
		return fmt.Errorf("%w: %v", ErrSyncFailed, err)
	}
	return w.file.Close()
}

// GetLastSeq 最後寫入的序號，寫進快照的 LastSeq
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// GetPath 取得 WAL 檔案路徑
func (w *WAL) GetPath() string {
	return w.path
}

// readEvents 依序解碼檔案中的事件，遇到損毀即停止
func readEvents(r io.Reader, fn func(Event)) error {
	dec := json.NewDecoder(r)
	var good uint64
	for dec.More() {
		var ev Event
		if err := dec.Decode(&ev); err != nil {
			return &CorruptionError{Seq: good, Offset: dec.InputOffset(), Cause: err}
		}
		good = ev.Seq
		fn(ev)
	}
	return nil
}
