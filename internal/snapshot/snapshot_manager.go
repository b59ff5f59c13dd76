package snapshot

// ============================================================================
// 離線佇列快照：任務表、等待順序、NextID、完成計數與 LastSeq。
// 恢復時先載入快照，再重放 LastSeq 之後的 WAL 事件。
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// SchemaVersion 目前的快照資料結構版本
const SchemaVersion = 1

var (
	ErrCorruptedSnapshot   = errors.New("snapshot: unreadable")
	ErrIncompatibleVersion = errors.New("snapshot: unsupported schema version")
)

// Store 快照儲存後端（本機檔案或 Redis）
type Store interface {
	Write(data types.SnapshotData) error
	Load() (types.SnapshotData, error)
}

// Manager 以本機 JSON 檔保存快照
type Manager struct {
	mu   sync.Mutex
	path string
}

var _ Store = (*Manager)(nil)

func NewManager(path string) *Manager {
	return &Manager{path: path}
}

// Write 先寫 <path>.tmp 並 fsync，再 rename 取代舊快照；
// 中途斷電時舊快照保持完整
func (m *Manager) Write(data types.SnapshotData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := encode(data)
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := writeSynced(tmp, b); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("snapshot: replace %s: %w", m.path, err)
	}
	return nil
}

// Load 首次啟動（檔案不存在）時回傳空佇列狀態
func (m *Manager) Load() (types.SnapshotData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := os.ReadFile(m.path)
	if errors.Is(err, os.ErrNotExist) {
		return empty(), nil
	}
	if err != nil {
		return types.SnapshotData{}, fmt.Errorf("snapshot: read %s: %w", m.path, err)
	}
	return decode(b)
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

func (m *Manager) GetPath() string {
	return m.path
}

// ============================================================================
// 編解碼（檔案與 Redis 共用）
// ============================================================================

func empty() types.SnapshotData {
	return types.SnapshotData{
		Jobs:      make(map[types.JobID]*types.Job),
		NextID:    1,
		SchemaVer: SchemaVersion,
	}
}

func encode(data types.SnapshotData) ([]byte, error) {
	data.SchemaVer = SchemaVersion

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("snapshot: encode: %w", err)
	}
	return b, nil
}

func decode(b []byte) (types.SnapshotData, error) {
	var data types.SnapshotData
	if err := json.Unmarshal(b, &data); err != nil {
		return types.SnapshotData{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}

	if data.SchemaVer != SchemaVersion {
		return types.SnapshotData{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, data.SchemaVer, SchemaVersion)
	}

	if data.Jobs == nil {
		data.Jobs = make(map[types.JobID]*types.Job)
	}
	return data, nil
}

func writeSynced(path string, b []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
