package cli

// ============================================================================
// 職責說明：
// 1. 組裝匯流排、設定儲存、FBS 客戶端、連線監看、離線佇列與管理服務
// 2. 啟動順序：儲存 → 端點 → 佇列 → 訂閱 → 監看 → 對外服務
// 3. 關閉順序相反，佇列最後停止以寫入最終快照
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ChuLiYu/fbs-kiosk/internal/bus"
	"github.com/ChuLiYu/fbs-kiosk/internal/config"
	"github.com/ChuLiYu/fbs-kiosk/internal/configstore"
	"github.com/ChuLiYu/fbs-kiosk/internal/fbs"
	"github.com/ChuLiYu/fbs-kiosk/internal/metrics"
	"github.com/ChuLiYu/fbs-kiosk/internal/offline"
	"github.com/ChuLiYu/fbs-kiosk/internal/server"
	"github.com/ChuLiYu/fbs-kiosk/internal/snapshot"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

var log = slog.Default()

const (
	endpointTimeout = 5 * time.Second
	shutdownTimeout = 10 * time.Second
)

type daemon struct {
	cfg      *config.Config
	bus      *bus.Memory
	registry *prometheus.Registry
	metrics  *metrics.Collector
	client   *fbs.Client
	watcher  *fbs.Watcher
	api      *fbs.BusAPI
	queues   []*offline.Queue
	service  *offline.Service
	admin    *server.Admin
	health   *server.Health
	redis    *redis.Client

	adminLis  net.Listener
	healthLis net.Listener

	stops []func() // 匯流排訂閱，關閉時反向呼叫
}

func newDaemon(ctx context.Context, cfg *config.Config) (*daemon, error) {
	d := &daemon{cfg: cfg, bus: bus.New()}

	d.stops = append(d.stops, d.bus.On("logger.*", routeLog))
	d.stops = append(d.stops, configstore.New(cfg.Storage.ConfigDir).Serve(d.bus))

	loadCtx, cancel := context.WithTimeout(ctx, endpointTimeout)
	ep, err := config.LoadEndpoint(loadCtx, d.bus)
	cancel()
	if err != nil {
		d.unsubscribe()
		return nil, err
	}
	log.Info("Loaded FBS endpoint", "endpoint", ep.Endpoint, "agency", ep.Agency)

	if cfg.Metrics.Enabled {
		d.registry = prometheus.NewRegistry()
		d.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		d.metrics = metrics.NewCollector(d.registry)
	}

	d.watcher = fbs.NewWatcher(ep.Endpoint, d.bus,
		fbs.WithWatchInterval(cfg.FBS.ProbeInterval),
		fbs.WithWatchTimeout(cfg.FBS.ProbeTimeout),
		fbs.WithWatchMetrics(d.metrics),
	)
	d.client = fbs.NewClient(ep,
		fbs.WithRequestTimeout(cfg.FBS.RequestTimeout),
		fbs.WithProbeTimeout(cfg.FBS.ProbeTimeout),
		fbs.WithUserAgent(cfg.FBS.UserAgent),
		fbs.WithBus(d.bus),
		fbs.WithMetrics(d.metrics),
		fbs.WithConnectivityReport(d.watcher.Report),
	)
	d.api = fbs.NewBusAPI(d.client, d.bus)

	if err := d.openQueues(); err != nil {
		d.close()
		return nil, err
	}
	d.service = offline.NewService(d.bus, d.queues...)

	d.health = server.NewHealth()
	d.watcher.OnChange(d.health.SetOnline)

	deps := server.Deps{Endpoint: ep, Connectivity: d.watcher, Offline: d.service}
	if d.registry != nil {
		deps.Gatherer = d.registry
	}
	d.admin = server.NewAdmin(cfg.HTTP.Addr, deps)

	if d.adminLis, err = net.Listen("tcp", cfg.HTTP.Addr); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
	}
	if d.healthLis, err = net.Listen("tcp", cfg.GRPC.Addr); err != nil {
		d.close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPC.Addr, err)
	}
	return d, nil
}

func (d *daemon) openQueues() error {
	if err := os.MkdirAll(d.cfg.Queue.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create queue dir: %w", err)
	}
	if d.cfg.Storage.Snapshot == config.SnapshotRedis {
		d.redis = redis.NewClient(&redis.Options{Addr: d.cfg.Storage.RedisAddr})
	}

	processors := map[types.JobType]offline.Processor{
		types.JobCheckout: d.client.Checkout,
		types.JobCheckin:  d.client.Checkin,
	}
	for _, t := range []types.JobType{types.JobCheckout, types.JobCheckin} {
		var store snapshot.Store = snapshot.NewManager(d.cfg.SnapshotPath(t))
		if d.redis != nil {
			store = snapshot.NewRedisStore(d.redis, d.cfg.RedisKey(t))
		}

		q, err := offline.NewQueue(offline.Config{
			Type:             t,
			MaxAttempts:      d.cfg.Queue.MaxAttempts,
			BaseDelay:        d.cfg.Queue.BaseDelay,
			TaskTimeout:      d.cfg.Queue.TaskTimeout,
			SnapshotInterval: d.cfg.Queue.SnapshotInterval,
			WALPath:          d.cfg.WALPath(t),
			SyncWAL:          d.cfg.Queue.SyncWAL,
		}, processors[t], store, offline.WithBus(d.bus), offline.WithMetrics(d.metrics))
		if err != nil {
			return fmt.Errorf("failed to create %s queue: %w", t, err)
		}
		d.queues = append(d.queues, q)
	}
	return nil
}

// run 啟動所有元件並阻塞到 ctx 結束
func (d *daemon) run(ctx context.Context) error {
	for _, q := range d.queues {
		if err := q.Start(); err != nil {
			d.close()
			return fmt.Errorf("failed to start queue: %w", err)
		}
	}

	// 佇列必須先訂閱 fbs.online，監看器的第一次觀測才不會遺失
	d.stops = append(d.stops, d.service.Start())
	d.stops = append(d.stops, d.api.Start(ctx))

	errCh := make(chan error, 2)
	go func() { errCh <- d.admin.Serve(d.adminLis) }()
	go func() { errCh <- d.health.Serve(d.healthLis) }()

	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		d.watcher.Run(ctx)
	}()

	log.Info("fbsd started", "admin", d.adminLis.Addr().String(), "grpc", d.healthLis.Addr().String())

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			runErr = fmt.Errorf("server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.admin.Shutdown(shutdownCtx); err != nil {
		log.Warn("Admin server shutdown failed", "error", err)
	}
	d.health.Stop()
	<-watchDone

	d.close()
	log.Info("fbsd stopped")
	return runErr
}

func (d *daemon) unsubscribe() {
	for i := len(d.stops) - 1; i >= 0; i-- {
		d.stops[i]()
	}
	d.stops = nil
}

// close 釋放資源，可在部分初始化後呼叫
func (d *daemon) close() {
	d.unsubscribe()
	if d.api != nil {
		d.api.Wait()
	}
	for _, q := range d.queues {
		q.Stop()
	}
	if d.adminLis != nil {
		d.adminLis.Close()
	}
	if d.healthLis != nil {
		d.healthLis.Close()
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Warn("Failed to close redis client", "error", err)
		}
	}
}

// routeLog 將 logger.<level> 匯流排事件寫入 slog
func routeLog(event string, payload any) {
	level := slog.LevelInfo
	switch strings.TrimPrefix(event, "logger.") {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var fields map[string]any
	if err := bus.Decode(payload, &fields); err != nil {
		log.Log(context.Background(), level, fmt.Sprint(payload))
		return
	}
	msg, _ := fields["message"].(string)
	delete(fields, "message")

	attrs := make([]any, 0, 2*len(fields))
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	log.Log(context.Background(), level, msg, attrs...)
}
