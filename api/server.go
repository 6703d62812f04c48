// Package api serves the local ops endpoints. The appliance has no public
// API; these exist for health probes and field diagnosis.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dualcam-dvr/bookings"
)

// SchedulerInfo exposes the scheduler's current state.
type SchedulerInfo interface {
	State() string
}

// WorkerInfo exposes the worker's backlog.
type WorkerInfo interface {
	QueueDepth() int
}

// Connectivity reports network reachability.
type Connectivity interface {
	IsOnline() bool
}

// Server is the ops HTTP server.
type Server struct {
	engine    *gin.Engine
	startedAt time.Time

	scheduler SchedulerInfo
	worker    WorkerInfo
	conn      Connectivity
	store     *bookings.Store
}

func NewServer(scheduler SchedulerInfo, worker WorkerInfo, conn Connectivity, store *bookings.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		startedAt: time.Now(),
		scheduler: scheduler,
		worker:    worker,
		conn:      conn,
		store:     store,
	}
	s.engine.Use(gin.Recovery())
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/status", s.status)
	return s
}

// Run serves until the listener fails.
func (s *Server) Run(port string) error {
	return s.engine.Run(":" + port)
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) status(c *gin.Context) {
	out := gin.H{
		"uptime": time.Since(s.startedAt).Round(time.Second).String(),
	}
	if s.scheduler != nil {
		out["scheduler"] = s.scheduler.State()
	}
	if s.worker != nil {
		out["pending_uploads"] = s.worker.QueueDepth()
	}
	if s.conn != nil {
		out["online"] = s.conn.IsOnline()
	}
	if s.store != nil {
		if list, err := s.store.Load(); err == nil {
			counts := map[string]int{}
			for _, b := range list {
				status := b.Status
				if status == "" {
					status = bookings.StatusScheduled
				}
				counts[status]++
			}
			out["bookings"] = counts
		}
	}
	c.JSON(http.StatusOK, out)
}
