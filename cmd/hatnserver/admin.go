package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/evgeniums/hatn-go/pkg/version"
)

// adminMetrics are the request/accept counters surfaced on /metrics,
// grounded on internal/connpool's per-concern GaugeVec shape (C9) but
// registered here, not in internal/rpcserver, since the admin HTTP
// surface itself lives at this layer (see DESIGN.md's C11 entry).
type adminMetrics struct {
	registry     *prometheus.Registry
	requests     *prometheus.CounterVec
	mqAccepted   prometheus.Counter
	mqRejected   *prometheus.CounterVec
}

func newAdminMetrics() *adminMetrics {
	m := &adminMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hatnserver_rpc_requests_total",
			Help: "RPC requests handled, by service_id/method_id/outcome.",
		}, []string{"service_id", "method_id", "outcome"}),
		mqAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hatnserver_mq_accepted_total",
			Help: "Messages accepted by the queue server.",
		}),
		mqRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hatnserver_mq_rejected_total",
			Help: "Messages rejected by the queue server, by reason.",
		}, []string{"reason"}),
	}
	m.registry.MustRegister(m.requests, m.mqAccepted, m.mqRejected)
	return m
}

// newAdminRouter builds the gin router for the admin HTTP surface named in
// SPEC_FULL.md's package map: /healthz, /metrics, /version, /debug/mq/tail.
// This is strictly an operator-facing plane alongside the C8/C11 RPC
// listener, not the RPC transport itself.
func newAdminRouter(probes *ProbeManager, metrics *adminMetrics, tail *tailHub) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		status := gin.H{
			"live":  probes.IsLive(),
			"ready": probes.IsReady() && !probes.InStartupGrace(),
		}
		if vm, err := mem.VirtualMemory(); err == nil {
			status["mem_used_percent"] = vm.UsedPercent
			status["mem_available_bytes"] = vm.Available
		}
		if la, err := load.Avg(); err == nil {
			status["load1"] = la.Load1
			status["load5"] = la.Load5
			status["load15"] = la.Load15
		}
		code := http.StatusOK
		if !probes.IsLive() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})))

	r.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version.Version,
			"commit":     version.GitCommit,
			"built_at":   version.BuildTime,
			"go_version": version.GoVersion,
		})
	})

	r.GET("/debug/mq/tail", func(c *gin.Context) {
		tail.serveWS(c.Writer, c.Request)
	})

	return r
}

// runAdminServer serves the admin router in a background goroutine until
// the process exits or the returned server's Shutdown is called.
func runAdminServer(addr string, router http.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}
