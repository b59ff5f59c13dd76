// Package config loads the process configuration of fbsd from YAML and the
// FBS endpoint from the config store.
package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/configstore"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

// 快照後端
const (
	SnapshotFile  = "file"
	SnapshotRedis = "redis"
)

// Config 對應設定檔的完整結構
type Config struct {
	FBS struct {
		RequestTimeout time.Duration `yaml:"request_timeout"`
		ProbeTimeout   time.Duration `yaml:"probe_timeout"`
		ProbeInterval  time.Duration `yaml:"probe_interval"`
		UserAgent      string        `yaml:"user_agent"`
	} `yaml:"fbs"`

	Queue struct {
		MaxAttempts      int           `yaml:"max_attempts"`
		BaseDelay        time.Duration `yaml:"base_delay"`
		TaskTimeout      time.Duration `yaml:"task_timeout"`
		SnapshotInterval time.Duration `yaml:"snapshot_interval"`
		DataDir          string        `yaml:"data_dir"`
		SyncWAL          bool          `yaml:"sync_wal"`
	} `yaml:"queue"`

	Storage struct {
		ConfigDir string `yaml:"config_dir"`
		Snapshot  string `yaml:"snapshot"` // file | redis
		RedisAddr string `yaml:"redis_addr"`
		RedisKey  string `yaml:"redis_key"` // 前綴，實際 key 為 <prefix>:<queue>
	} `yaml:"storage"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	GRPC struct {
		Addr string `yaml:"addr"`
	} `yaml:"grpc"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`
}

// Default 未在設定檔中出現的欄位使用這些值
func Default() *Config {
	cfg := &Config{}
	cfg.FBS.RequestTimeout = 30 * time.Second
	cfg.FBS.ProbeTimeout = time.Second
	cfg.FBS.ProbeInterval = 10 * time.Second
	cfg.FBS.UserAgent = "fbs-kiosk"

	cfg.Queue.MaxAttempts = 5
	cfg.Queue.BaseDelay = 10 * time.Second
	cfg.Queue.TaskTimeout = 30 * time.Second
	cfg.Queue.SnapshotInterval = time.Minute
	cfg.Queue.DataDir = "./data/queue"
	cfg.Queue.SyncWAL = true

	cfg.Storage.ConfigDir = "./data/config"
	cfg.Storage.Snapshot = SnapshotFile
	cfg.Storage.RedisAddr = "localhost:6379"
	cfg.Storage.RedisKey = "fbs-kiosk:snapshot"

	cfg.HTTP.Addr = ":8080"
	cfg.GRPC.Addr = ":50051"
	cfg.Metrics.Enabled = true
	return cfg
}

// Load 讀取 YAML 設定檔並套用預設值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 檢查設定值是否可用
func (c *Config) Validate() error {
	var errs []error
	if c.FBS.RequestTimeout <= 0 {
		errs = append(errs, errors.New("fbs.request_timeout must be positive"))
	}
	if c.FBS.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("fbs.probe_timeout must be positive"))
	}
	if c.FBS.ProbeInterval <= 0 {
		errs = append(errs, errors.New("fbs.probe_interval must be positive"))
	}
	if c.Queue.MaxAttempts < 1 {
		errs = append(errs, errors.New("queue.max_attempts must be at least 1"))
	}
	if c.Queue.BaseDelay <= 0 {
		errs = append(errs, errors.New("queue.base_delay must be positive"))
	}
	if c.Queue.DataDir == "" {
		errs = append(errs, errors.New("queue.data_dir is required"))
	}
	if c.Storage.ConfigDir == "" {
		errs = append(errs, errors.New("storage.config_dir is required"))
	}
	switch c.Storage.Snapshot {
	case SnapshotFile:
	case SnapshotRedis:
		if c.Storage.RedisAddr == "" {
			errs = append(errs, errors.New("storage.redis_addr is required for redis snapshots"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.snapshot: unknown driver %q", c.Storage.Snapshot))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// WALPath 佇列的 WAL 檔案路徑
func (c *Config) WALPath(t types.JobType) string {
	return filepath.Join(c.Queue.DataDir, string(t)+".wal")
}

// SnapshotPath 佇列的快照檔案路徑
func (c *Config) SnapshotPath(t types.JobType) string {
	return filepath.Join(c.Queue.DataDir, string(t)+".snapshot.json")
}

// RedisKey 佇列在 Redis 中的快照 key
func (c *Config) RedisKey(t types.JobType) string {
	return c.Storage.RedisKey + ":" + string(t)
}

// ============================================================================
// FBS 端點
// ============================================================================

// ErrInvalidEndpoint 設定儲存中的端點不完整
var ErrInvalidEndpoint = errors.New("config: invalid fbs endpoint")

// LoadEndpoint 透過 storage.load {type: config, name: fbs} 取得端點設定
func LoadEndpoint(ctx context.Context, b bus.Bus) (types.Endpoint, error) {
	reply, err := bus.Request(ctx, b, configstore.EventLoad, map[string]any{
		"type": "config",
		"name": "fbs",
	})
	if err != nil {
		return types.Endpoint{}, fmt.Errorf("config: load fbs endpoint: %w", err)
	}

	var ep types.Endpoint
	if err := bus.Decode(reply, &ep); err != nil {
		return types.Endpoint{}, fmt.Errorf("config: load fbs endpoint: %w", err)
	}
	if err := ValidateEndpoint(ep); err != nil {
		return types.Endpoint{}, err
	}
	return ep, nil
}

// ValidateEndpoint 端點網址必須是 http(s)，且需要機構代碼
func ValidateEndpoint(ep types.Endpoint) error {
	u, err := url.Parse(ep.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: endpoint %q", ErrInvalidEndpoint, ep.Endpoint)
	}
	if ep.Agency == "" {
		return fmt.Errorf("%w: agency is required", ErrInvalidEndpoint)
	}
	return nil
}
