package wal

// ============================================================================
// WAL 工具函式
// 職責：提供 WAL 相關的輔助功能
// ============================================================================

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"
)

var log = slog.Default()

// GetLastEvent 從 WAL 檔案讀取最後一個完好的事件
//
// 採用從頭到尾掃描；kiosk 的 WAL 在每次快照後都會旋轉，檔案很小
//
// 回傳：
//
//	最後一個事件；檔案為空時回傳 ErrEmptyWAL；
//	檔案尾端損毀時同時回傳最後一個完好事件與 CorruptionError
func GetLastEvent(path string) (*Event, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var last *Event
	scanErr := readEvents(file, func(event Event) {
		e := event
		last = &e
	})
	if last == nil && scanErr == nil {
		return nil, ErrEmptyWAL
	}
	return last, scanErr
}

// CountEvents 計算 WAL 中可解析的事件總數
func CountEvents(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	count := 0
	err = readEvents(file, func(Event) { count++ })
	return count, err
}

// DumpWAL 輸出 WAL 內容（人類可讀格式）
//
//	[Seq:1] ENQUEUE job-1 at 2024-01-01T00:00:00Z (checksum:0x12345678)
func DumpWAL(path string, w io.Writer) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var writeErr error
	err = readEvents(file, func(event Event) {
		if writeErr != nil {
			return
		}
		mark := ""
		if VerifyChecksum(event) != nil {
			mark = " CORRUPTED"
		}
		_, writeErr = fmt.Fprintf(w, "[Seq:%d] %s job-%d at %s (checksum:%#x)%s\n",
			event.Seq, event.Type, event.JobID,
			time.UnixMilli(event.Timestamp).UTC().Format(time.RFC3339), event.Checksum, mark)
	})
	if writeErr != nil {
		return writeErr
	}
	return err
}
