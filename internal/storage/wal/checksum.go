package wal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 WAL 事件的 xxhash64 校驗和
// ============================================================================

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// CalculateChecksum 計算事件的校驗和
//
// 涵蓋 Type + JobID + Seq + 任務 JSON；不包含 Timestamp
func CalculateChecksum(event Event) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(string(event.Type))
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(event.JobID.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(strconv.FormatUint(event.Seq, 10))
	_, _ = d.WriteString("|")

	// types.Job 只含基本型別欄位，Marshal 不會失敗且輸出穩定
	jobBytes, _ := json.Marshal(event.Job)
	_, _ = d.Write(jobBytes)

	return d.Sum64()
}

// VerifyChecksum 驗證事件的校驗和是否正確
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
