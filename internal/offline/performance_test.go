package offline

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/fbs-kiosk/internal/snapshot"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

func BenchmarkEnqueue(b *testing.B) {
	dir := b.TempDir()
	cfg := testConfig(dir)
	q, err := NewQueue(cfg, newFakeILS(alwaysOK).process, snapshot.NewManager(filepath.Join(dir, "checkout.snapshot.json")))
	require.NoError(b, err)
	require.NoError(b, q.Start())
	defer q.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, err := q.Enqueue(types.Job{Payload: types.Payload{ItemIdentifier: fmt.Sprintf("item-%d", i)}})
		require.NoError(b, err)
	}
	b.StopTimer()
}

// TestRecoveryPerformance 重啟後從快照 + WAL 恢復 2000 筆離線交易
func TestRecoveryPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	dir := t.TempDir()
	store := snapshot.NewManager(filepath.Join(dir, "checkout.snapshot.json"))

	// Phase 1: 一半寫入快照，一半只留在 WAL；q1 不停止，模擬當機
	q1, err := NewQueue(testConfig(dir), newFakeILS(alwaysOK).process, store)
	require.NoError(t, err)
	require.NoError(t, q1.Start())
	t.Cleanup(q1.Stop)

	const total = 2000
	for i := 0; i < total; i++ {
		if i == total/2 {
			require.NoError(t, q1.takeSnapshot())
		}
		_, err := q1.Enqueue(types.Job{Payload: types.Payload{ItemIdentifier: fmt.Sprintf("item-%d", i)}})
		require.NoError(t, err)
	}

	// Phase 2: 量測恢復時間
	start := time.Now()
	q2, err := NewQueue(testConfig(dir), newFakeILS(alwaysOK).process, store)
	require.NoError(t, err)
	require.NoError(t, q2.Start())
	defer q2.Stop()
	recoveryTime := time.Since(start)

	require.Len(t, q2.Waiting(), total)
	require.Equal(t, types.JobID(1), q2.Waiting()[0])
	t.Logf("Recovered %d jobs in %v", total, recoveryTime)

	if recoveryTime > 3*time.Second {
		t.Errorf("Recovery time %v exceeds 3s", recoveryTime)
	}
}
