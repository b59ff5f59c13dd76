package jobmanager

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// newTestJob creates a test Job
func newTestJob(item string) types.Job {
	return types.Job{
		Type:    types.JobCheckout,
		Payload: types.Payload{PatronID: "1234567890", ItemIdentifier: item},
	}
}

// assertNoError asserts no error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// assertError asserts a specific error occurred
func assertError(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error %v, got nil", want)
		return
	}
	if !errors.Is(err, want) {
		t.Errorf("expected error %v, got %v", want, err)
	}
}

// assertJobStatus asserts job status
func assertJobStatus(t *testing.T, jm *JobManager, jobID types.JobID, want types.JobStatus) {
	t.Helper()
	job, exists := jm.jobs[jobID]
	if !exists {
		t.Errorf("job %s not found", jobID)
		return
	}
	if job.Status != want {
		t.Errorf("job %s status: got %s, want %s", jobID, job.Status, want)
	}
}

// popActive pops the next job and marks it active
func popActive(t *testing.T, jm *JobManager) types.Job {
	t.Helper()
	job := jm.PopPending()
	if job == nil {
		t.Fatal("expected a pending job")
	}
	assertNoError(t, jm.MarkActive(job.ID, job.Payload))
	return *job
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()

	if jm.jobs == nil || jm.active == nil || jm.delayed == nil || jm.failed == nil {
		t.Fatal("maps not initialized")
	}
	if got := jm.Stats(); got != (types.Counts{}) {
		t.Errorf("initial stats: got %+v, want zero", got)
	}
}

func TestEnqueueAssignsMonotonicIDs(t *testing.T) {
	jm := NewJobManager()

	var last types.JobID
	for i := 0; i < 10; i++ {
		job := newTestJob("item")
		job.ID = 999 // 會被忽略
		got := jm.Enqueue(job)
		if got.ID <= last {
			t.Fatalf("id %d not greater than previous %d", got.ID, last)
		}
		if got.Status != types.StatusWaiting {
			t.Errorf("status: got %s, want waiting", got.Status)
		}
		last = got.ID
	}
}

func TestIDsNeverReusedAfterRemove(t *testing.T) {
	jm := NewJobManager()

	first := jm.Enqueue(newTestJob("a"))
	assertNoError(t, jm.Remove(first.ID))

	second := jm.Enqueue(newTestJob("b"))
	if second.ID == first.ID {
		t.Errorf("id %d reused", second.ID)
	}
}

func TestPopPendingFIFO(t *testing.T) {
	jm := NewJobManager()
	a := jm.Enqueue(newTestJob("a"))
	b := jm.Enqueue(newTestJob("b"))
	c := jm.Enqueue(newTestJob("c"))

	// 被移除的任務不會被取出
	assertNoError(t, jm.Remove(b.ID))

	for _, want := range []types.JobID{a.ID, c.ID} {
		got := jm.PopPending()
		if got == nil || got.ID != want {
			t.Fatalf("PopPending: got %v, want %d", got, want)
		}
	}
	if got := jm.PopPending(); got != nil {
		t.Errorf("expected empty queue, got %d", got.ID)
	}
}

func TestMarkActive(t *testing.T) {
	jm := NewJobManager()
	job := jm.Enqueue(newTestJob("a"))

	assertError(t, jm.MarkActive(42, job.Payload), ErrJobNotFound)

	payload := job.Payload
	payload.NoBlock = true
	assertNoError(t, jm.MarkActive(job.ID, payload))
	assertJobStatus(t, jm, job.ID, types.StatusActive)

	if !jm.jobs[job.ID].Payload.NoBlock {
		t.Error("payload update not stored")
	}

	assertError(t, jm.MarkActive(job.ID, payload), ErrNotWaiting)
}

func TestCompleteRemovesJob(t *testing.T) {
	jm := NewJobManager()
	jm.Enqueue(newTestJob("a"))
	job := popActive(t, jm)

	assertNoError(t, jm.Complete(job.ID))

	if _, ok := jm.GetJob(job.ID); ok {
		t.Error("completed job should be removed")
	}
	if got := jm.Stats().Completed; got != 1 {
		t.Errorf("completed: got %d, want 1", got)
	}
	assertError(t, jm.Complete(job.ID), ErrJobNotFound)
}

func TestRetryAndPromote(t *testing.T) {
	jm := NewJobManager()
	jm.Enqueue(newTestJob("a"))
	job := popActive(t, jm)
	jm.Enqueue(newTestJob("b"))

	now := time.Now()
	assertNoError(t, jm.Retry(job.ID, now.Add(time.Minute), "timeout"))
	assertJobStatus(t, jm, job.ID, types.StatusDelayed)

	if got := jm.jobs[job.ID].Attempt; got != 1 {
		t.Errorf("attempt: got %d, want 1", got)
	}
	if due := jm.PromoteDue(now); len(due) != 0 {
		t.Errorf("nothing should be due yet, got %v", due)
	}

	due := jm.PromoteDue(now.Add(2 * time.Minute))
	if len(due) != 1 || due[0] != job.ID {
		t.Fatalf("PromoteDue: got %v", due)
	}

	// 重試的任務回到佇列尾端
	waiting := jm.Waiting()
	if len(waiting) != 2 || waiting[1] != job.ID {
		t.Errorf("waiting order: got %v", waiting)
	}
}

func TestMarkFailed(t *testing.T) {
	jm := NewJobManager()
	jm.Enqueue(newTestJob("a"))
	job := popActive(t, jm)

	assertNoError(t, jm.MarkFailed(job.ID, "Item not checked out", true))
	assertJobStatus(t, jm, job.ID, types.StatusFailed)

	failed := jm.Failed()
	if len(failed) != 1 || failed[0].FailedReason != "Item not checked out" || failed[0].Attempt != 1 {
		t.Errorf("failed jobs: got %+v", failed)
	}
}

func TestRequeuePutsJobAtHead(t *testing.T) {
	jm := NewJobManager()
	jm.Enqueue(newTestJob("a"))
	jm.Enqueue(newTestJob("b"))
	job := popActive(t, jm)

	assertNoError(t, jm.Requeue(job.ID))
	if got := jm.PopPending(); got == nil || got.ID != job.ID {
		t.Errorf("requeued job should be first, got %v", got)
	}
}

func TestStats(t *testing.T) {
	jm := NewJobManager()
	for i := 0; i < 4; i++ {
		jm.Enqueue(newTestJob("x"))
	}
	a := popActive(t, jm)
	b := popActive(t, jm)
	c := popActive(t, jm)
	assertNoError(t, jm.Complete(a.ID))
	assertNoError(t, jm.Retry(b.ID, time.Now().Add(time.Hour), "err"))
	assertNoError(t, jm.MarkFailed(c.ID, "no", true))

	want := types.Counts{Waiting: 1, Completed: 1, Delayed: 1, Failed: 1}
	if got := jm.Stats(); got != want {
		t.Errorf("stats: got %+v, want %+v", got, want)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	jm := NewJobManager()
	for _, item := range []string{"a", "b", "c", "d"} {
		jm.Enqueue(newTestJob(item))
	}
	a := popActive(t, jm)
	assertNoError(t, jm.Complete(a.ID))
	b := popActive(t, jm)
	assertNoError(t, jm.MarkFailed(b.ID, "no", true))

	data := jm.Snapshot()

	restored := NewJobManager()
	assertNoError(t, restored.Restore(data))

	if got, want := restored.Stats(), jm.Stats(); got != want {
		t.Errorf("stats after restore: got %+v, want %+v", got, want)
	}
	if got := restored.Waiting(); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("order after restore: got %v", got)
	}

	next := restored.Enqueue(newTestJob("e"))
	if next.ID != 5 {
		t.Errorf("next id after restore: got %d, want 5", next.ID)
	}
}

func TestInsertKeepsID(t *testing.T) {
	jm := NewJobManager()
	job := newTestJob("a")
	job.ID = 7

	assertNoError(t, jm.Insert(job))
	assertError(t, jm.Insert(job), ErrDuplicateJob)

	if got := jm.Enqueue(newTestJob("b")); got.ID != 8 {
		t.Errorf("next id: got %d, want 8", got.ID)
	}
}

// TestMarkActiveWithoutPop replayed dispatches activate jobs still in the queue
func TestMarkActiveWithoutPop(t *testing.T) {
	jm := NewJobManager()
	a := jm.Enqueue(newTestJob("a"))
	b := jm.Enqueue(newTestJob("b"))

	assertNoError(t, jm.MarkActive(a.ID, a.Payload))
	if got := jm.Waiting(); len(got) != 1 || got[0] != b.ID {
		t.Errorf("waiting: got %v, want [%d]", got, b.ID)
	}

	assertNoError(t, jm.Requeue(a.ID))
	if got := jm.Stats().Waiting; got != 2 {
		t.Errorf("waiting after requeue: got %d, want 2", got)
	}
	if next := jm.PopPending(); next == nil || next.ID != a.ID {
		t.Errorf("expected job %d first", a.ID)
	}
}

func TestConcurrentEnqueue(t *testing.T) {
	jm := NewJobManager()
	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[types.JobID]bool)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job := jm.Enqueue(newTestJob("x"))
			mu.Lock()
			defer mu.Unlock()
			if seen[job.ID] {
				t.Errorf("duplicate id %d", job.ID)
			}
			seen[job.ID] = true
		}()
	}
	wg.Wait()

	if got := jm.Stats().Waiting; got != 50 {
		t.Errorf("waiting: got %d, want 50", got)
	}
}
