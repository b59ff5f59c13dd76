package fbs

// ============================================================================
// 連線閘門（Connectivity Gate）
// 職責：
// 1. 週期性探測 FBS 端點
// 2. 狀態改變時發佈 fbs.online / fbs.offline（第一次觀測一律發佈）
// 3. 通知其他元件（metrics、gRPC health）
// 4. 接收 Client 前置探測的結果（Report），離線時佇列立即暫停
// ============================================================================

import (
	"context"
	"sync"
	"time"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/metrics"
	"github.com/ChuLiYu/fbs-kiosk/internal/prober"
)

// 匯流排事件名稱
const (
	EventOnline  = "fbs.online"
	EventOffline = "fbs.offline"
)

const defaultProbeInterval = 10 * time.Second

// Watcher 連線狀態監看器
type Watcher struct {
	url      string
	bus      bus.Bus
	probe    ProbeFunc
	timeout  time.Duration
	interval time.Duration
	metrics  *metrics.Collector

	checkMu sync.Mutex // 序列化 Check，事件順序與觀測順序一致

	mu       sync.Mutex
	known    bool // 是否已有第一次觀測
	online   bool
	onChange []func(online bool)
}

// WatcherOption 設定 Watcher
type WatcherOption func(*Watcher)

// WithWatchProbe 替換探測函式（測試用）
func WithWatchProbe(p ProbeFunc) WatcherOption {
	return func(w *Watcher) { w.probe = p }
}

// WithWatchInterval 探測間隔
func WithWatchInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithWatchTimeout 單次探測逾時
func WithWatchTimeout(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.timeout = d }
}

// WithWatchMetrics 更新 fbs_online gauge
func WithWatchMetrics(m *metrics.Collector) WatcherOption {
	return func(w *Watcher) { w.metrics = m }
}

// NewWatcher 建立端點 url 的監看器
func NewWatcher(url string, b bus.Bus, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		url:      url,
		bus:      b,
		probe:    prober.IsOnline,
		timeout:  prober.DefaultTimeout,
		interval: defaultProbeInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnChange 註冊狀態改變回呼，在發佈匯流排事件之後呼叫
func (w *Watcher) OnChange(fn func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Online 回傳最後一次觀測結果；尚未觀測時為 false
func (w *Watcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Check 立即探測一次，狀態改變時發佈事件；回傳目前是否在線
func (w *Watcher) Check(ctx context.Context) bool {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()

	online := w.probe(ctx, w.url, w.timeout) == nil
	w.observe(online)
	return online
}

// Report 記錄其他元件（例如 Client 的前置探測）得到的連線結果，
// 與 Check 相同：狀態改變時發佈事件並呼叫回呼
func (w *Watcher) Report(online bool) {
	w.checkMu.Lock()
	defer w.checkMu.Unlock()
	w.observe(online)
}

// observe 呼叫者必須持有 checkMu
func (w *Watcher) observe(online bool) {
	w.mu.Lock()
	changed := !w.known || w.online != online
	w.known = true
	w.online = online
	callbacks := make([]func(bool), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	if !changed {
		return
	}

	w.metrics.SetFBSOnline(online)
	if online {
		log.Info("FBS is on-line", "endpoint", w.url)
		w.bus.Publish(EventOnline, map[string]any{"endpoint": w.url})
	} else {
		log.Warn("FBS is off-line", "endpoint", w.url)
		w.bus.Publish(EventOffline, map[string]any{"endpoint": w.url})
	}
	for _, fn := range callbacks {
		fn(online)
	}
}

// Run 立即探測，之後每個 interval 探測一次，直到 ctx 結束
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}
