// Package server exposes the admin HTTP API of fbsd and the gRPC health
// service that follows FBS connectivity.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChuLiYu/fbs-kiosk/internal/metrics"
	"github.com/ChuLiYu/fbs-kiosk/internal/offline"
	"github.com/ChuLiYu/fbs-kiosk/pkg/types"
)

var log = slog.Default()

// Connectivity reports the last observed FBS state.
type Connectivity interface {
	Online() bool
}

// Offline is the part of the offline service the admin API uses.
type Offline interface {
	Counts() map[types.JobType]types.Counts
	FailedJobs(t types.JobType) ([]types.FailedJob, error)
	Enqueue(t types.JobType, p types.Payload) (offline.Added, error)
}

// Deps 管理介面的相依元件；Gatherer 為 nil 時不提供 /metrics
type Deps struct {
	Endpoint     types.Endpoint
	Connectivity Connectivity
	Offline      Offline
	Gatherer     prometheus.Gatherer
}

// Admin HTTP 管理介面
type Admin struct {
	deps   Deps
	engine *gin.Engine
	srv    *http.Server
}

// NewAdmin 建立管理介面並註冊路由
func NewAdmin(addr string, deps Deps) *Admin {
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	a := &Admin{deps: deps, engine: engine}
	a.srv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	engine.GET("/healthz", a.healthz)
	engine.GET("/fbs/status", a.fbsStatus)
	engine.GET("/offline/counts", a.counts)
	engine.GET("/offline/failed", a.failed)
	engine.POST("/offline/:type", a.enqueue)
	if deps.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}
	return a
}

// Handler 回傳路由器（測試用）
func (a *Admin) Handler() http.Handler {
	return a.engine
}

// Serve 在 lis 上提供服務直到 Shutdown
func (a *Admin) Serve(lis net.Listener) error {
	log.Info("Admin HTTP server listening", "addr", lis.Addr().String())
	if err := a.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown 優雅關閉
func (a *Admin) Shutdown(ctx context.Context) error {
	return a.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("Admin request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// ============================================================================
// 路由處理
// ============================================================================

func (a *Admin) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *Admin) fbsStatus(c *gin.Context) {
	online := false
	if a.deps.Connectivity != nil {
		online = a.deps.Connectivity.Online()
	}
	c.JSON(http.StatusOK, gin.H{
		"online":   online,
		"endpoint": a.deps.Endpoint.Endpoint,
		"agency":   a.deps.Endpoint.Agency,
		"location": a.deps.Endpoint.Location,
	})
}

func (a *Admin) counts(c *gin.Context) {
	all := a.deps.Offline.Counts()
	t := types.JobType(c.Query("type"))
	if t == "" {
		c.JSON(http.StatusOK, all)
		return
	}
	counts, ok := all[t]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue " + string(t)})
		return
	}
	c.JSON(http.StatusOK, counts)
}

func (a *Admin) failed(c *gin.Context) {
	jobs, err := a.deps.Offline.FailedJobs(types.JobType(c.Query("type")))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, jobs)
}

func (a *Admin) enqueue(c *gin.Context) {
	var p types.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.ItemIdentifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "itemIdentifier is required"})
		return
	}

	t := types.JobType(c.Param("type"))
	if _, ok := a.deps.Offline.Counts()[t]; !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown queue " + string(t)})
		return
	}

	added, err := a.deps.Offline.Enqueue(t, p)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, added)
}
