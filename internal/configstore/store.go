// Package configstore keeps small JSON documents keyed by type and name and
// serves them over the storage.* bus events. The kiosk loads its FBS
// endpoint from it once at startup.
package configstore

// ============================================================================
// 職責說明：
// 1. <dir>/<type>/<name>.json 檔案儲存，原子性寫入
// 2. 回應 storage.load / storage.save / storage.remove / storage.list
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
)

var log = slog.Default()

// 匯流排事件名稱
const (
	EventLoad   = "storage.load"
	EventSave   = "storage.save"
	EventRemove = "storage.remove"
	EventList   = "storage.list"
)

var (
	// ErrNotFound 文件不存在
	ErrNotFound = errors.New("configstore: not found")
	// ErrInvalidKey type 或 name 含有路徑字元
	ErrInvalidKey = errors.New("configstore: invalid type or name")
)

// Store 檔案型設定儲存
type Store struct {
	dir string
	mu  sync.RWMutex
}

// New 建立以 dir 為根目錄的儲存
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Dir 根目錄
func (s *Store) Dir() string {
	return s.dir
}

func validKey(part string) bool {
	return part != "" && part != "." && part != ".." &&
		!strings.ContainsAny(part, `/\`) && filepath.Base(part) == part
}

func (s *Store) path(typ, name string) (string, error) {
	if !validKey(typ) || !validKey(name) {
		return "", fmt.Errorf("%w: %q/%q", ErrInvalidKey, typ, name)
	}
	return filepath.Join(s.dir, typ, name+".json"), nil
}

// Load 讀取原始 JSON
func (s *Store) Load(typ, name string) (json.RawMessage, error) {
	path, err := s.path(typ, name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, typ, name)
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(b) {
		return nil, fmt.Errorf("configstore: %s/%s is not valid JSON", typ, name)
	}
	return json.RawMessage(b), nil
}

// LoadInto 讀取並解碼到 v
func (s *Store) LoadInto(typ, name string, v any) error {
	raw, err := s.Load(typ, name)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// Save 以 temp file + rename 寫入 value
func (s *Store) Save(typ, name string, value any) error {
	path, err := s.path(typ, name)
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("configstore: encode %s/%s: %w", typ, name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// Remove 刪除文件；不存在時回傳 ErrNotFound
func (s *Store) Remove(typ, name string) error {
	path, err := s.path(typ, name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, typ, name)
	} else if err != nil {
		return err
	}
	return nil
}

// List 某個 type 底下的所有 name，依字母排序
func (s *Store) List(typ string) ([]string, error) {
	if !validKey(typ) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, typ)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.dir, typ))
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// ============================================================================
// 匯流排介面
// ============================================================================

type request struct {
	bus.Envelope
	Type string          `json:"type"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Serve 訂閱 storage.* 事件；回傳的函式取消訂閱
func (s *Store) Serve(b bus.Bus) (stop func()) {
	offs := []func(){
		b.On(EventLoad, s.handle(b, func(r request) (any, error) {
			var v any
			if err := s.LoadInto(r.Type, r.Name, &v); err != nil {
				return nil, err
			}
			return v, nil
		})),
		b.On(EventSave, s.handle(b, func(r request) (any, error) {
			if len(r.Data) == 0 {
				return nil, errors.New("configstore: save without data")
			}
			if err := s.Save(r.Type, r.Name, r.Data); err != nil {
				return nil, err
			}
			return map[string]any{"type": r.Type, "name": r.Name}, nil
		})),
		b.On(EventRemove, s.handle(b, func(r request) (any, error) {
			if err := s.Remove(r.Type, r.Name); err != nil {
				return nil, err
			}
			return map[string]any{"type": r.Type, "name": r.Name}, nil
		})),
		b.On(EventList, s.handle(b, func(r request) (any, error) {
			return s.List(r.Type)
		})),
	}
	return func() {
		for _, off := range offs {
			off()
		}
	}
}

func (s *Store) handle(b bus.Bus, fn func(request) (any, error)) bus.Handler {
	return func(event string, payload any) {
		var req request
		if err := bus.Decode(payload, &req); err != nil {
			log.Error("Invalid storage request", "event", event, "error", err)
			bus.Reply(b, req.Envelope, nil, err)
			return
		}
		result, err := fn(req)
		if err != nil {
			log.Debug("Storage request failed", "event", event, "type", req.Type, "name", req.Name, "error", err)
		}
		bus.Reply(b, req.Envelope, result, err)
	}
}
