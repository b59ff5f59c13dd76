package wal


import (
	"errors"
	"fmt"
)

var (
	ErrCorruptedWAL     = errors.New("wal: unreadable event")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrEmptyWAL         = errors.New("wal: no events")
	ErrWALClosed        = errors.New("wal: closed")

	// ErrSyncFailed the event may not survive a power loss
	ErrSyncFailed = errors.New("wal: fsync failed")
)

// ChecksumError an event whose stored checksum does not match its content.
type ChecksumError struct {
	Seq      uint64
	Expected uint64
	Actual   uint64
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("wal: checksum mismatch at seq=%d (expected=%#x, got=%#x)", e.Seq, e.Expected, e.Actual)
}

func (e *ChecksumError) Unwrap() error {
	return ErrChecksumMismatch
}

// CorruptionError the log could not be decoded past Offset, typically a
// torn write at the tail after a power cut.
type CorruptionError struct {
	Seq    uint64 // last good event
	Offset int64
	Cause  error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("wal: corrupted after seq=%d at offset %d: %v", e.Seq, e.Offset, e.Cause)
}

func (e *CorruptionError) Unwrap() []error {
	return []error{ErrCorruptedWAL, e.Cause}
}
