package wal

import "github.com/ChuLiYu/fbs-kiosk/pkg/types"

// ============================================================================
// WAL Type Definitions
// Responsibility: Define core data structures for WAL
// ============================================================================

// EventType defines WAL event types
type EventType string

const (
	EventEnqueue  EventType = "ENQUEUE"  // Job added to queue
	EventDispatch EventType = "DISPATCH" // Job handed to the worker
	EventAck      EventType = "ACK"      // Job succeeded and was removed
	EventRetry    EventType = "RETRY"    // Job delayed for a backoff retry
	EventPromote  EventType = "PROMOTE"  // Delayed job moved back to waiting
	EventDead     EventType = "DEAD"     // Job terminally failed
	EventRemove   EventType = "REMOVE"   // Job removed without completing
)

// Event represents a WAL event record.
// Job carries the full job state after the transition, so replay never
// depends on a snapshot to learn payloads.
type Event struct {
	Seq       uint64      `json:"seq"`       // Event sequence number (monotonically increasing)
	Type      EventType   `json:"type"`      // Event type
	JobID     types.JobID `json:"job_id"`    // Job ID
	Job       types.Job   `json:"job"`       // Job state after the event
	Timestamp int64       `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint64      `json:"checksum"`  // xxhash64 checksum
}

// EventHandler is the function type for processing WAL events
// Used during Replay to apply events to system state
type EventHandler func(event Event) error
