package server

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// FBSService 健康檢查中代表 FBS 連線的服務名稱
const FBSService = "fbs"

// Health gRPC 健康檢查服務。整體服務 ("") 在程序存活時為 SERVING，
// "fbs" 隨連線狀態切換 SERVING / NOT_SERVING。
type Health struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealth 建立健康檢查服務；FBS 初始為 NOT_SERVING，直到第一次觀測在線
func NewHealth() *Health {
	h := &Health{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(FBSService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(h.grpc, h.health)
	return h
}

// SetOnline 更新 fbs 服務狀態，可直接作為 Watcher.OnChange 回呼
func (h *Health) SetOnline(online bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if online {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(FBSService, status)
}

// Serve 在 lis 上提供 gRPC 服務直到 Stop
func (h *Health) Serve(lis net.Listener) error {
	log.Info("gRPC health server listening", "addr", lis.Addr().String())
	return h.grpc.Serve(lis)
}

// Stop 將所有服務標為 NOT_SERVING 並關閉
func (h *Health) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
