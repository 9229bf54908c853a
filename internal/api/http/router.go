// Package http hosts the ambient/admin HTTP surface: health checks, pool
// utilization reporting and session creation. This is deliberately not
// where bid/leaderboard traffic lives — that's the GraphQL API in
// internal/api/graph — mirroring the teacher's own split between a gin
// admin surface and a GraphQL product surface.
package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lvdashuaibi/bidfeed/config"
	"github.com/lvdashuaibi/bidfeed/internal/core"
	"github.com/lvdashuaibi/bidfeed/internal/durable"
	"github.com/lvdashuaibi/bidfeed/internal/hotstore"
)

// Utilization health bands, grounded on the original Python's
// core/pool_monitor.py thresholds.
const (
	utilizationModerate = 0.50
	utilizationHigh     = 0.75
	utilizationCritical = 0.90
)

// Router serves the ambient admin surface.
type Router struct {
	engine  *gin.Engine
	hot     *hotstore.Client
	durable *durable.Client
	session config.SessionConfig
}

// NewRouter builds the admin gin router.
func NewRouter(hot *hotstore.Client, dur *durable.Client, cfg config.SessionConfig) *Router {
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{engine: engine, hot: hot, durable: dur, session: cfg}
	engine.GET("/healthz", r.healthz)
	engine.GET("/admin/pool-status", r.poolStatus)
	engine.POST("/admin/sessions", r.createSession)
	return r
}

// Start runs the admin HTTP server, blocking until it exits.
func (r *Router) Start(port int) error {
	return r.engine.Run(":" + strconv.Itoa(port))
}

func (r *Router) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// poolStatus reports each pool's utilization and an overall health verdict,
// bucketed the way the original Python admin endpoint does.
func (r *Router) poolStatus(c *gin.Context) {
	dbStats := r.durable.PoolStats()
	redisStats := r.hot.PoolStats()

	dbUtilization := 0.0
	if dbStats.MaxOpenConnections > 0 {
		dbUtilization = float64(dbStats.InUse) / float64(dbStats.MaxOpenConnections)
	}

	redisTotal := int(redisStats.TotalConns)
	redisUtilization := 0.0
	if redisTotal > 0 {
		redisUtilization = float64(redisStats.TotalConns-redisStats.IdleConns) / float64(redisTotal)
	}

	c.JSON(http.StatusOK, gin.H{
		"mysql": gin.H{
			"in_use":      dbStats.InUse,
			"idle":        dbStats.Idle,
			"max_open":    dbStats.MaxOpenConnections,
			"utilization": dbUtilization,
			"health":      healthBand(dbUtilization),
		},
		"redis": gin.H{
			"total_conns": redisStats.TotalConns,
			"idle_conns":  redisStats.IdleConns,
			"stale_conns": redisStats.StaleConns,
			"utilization": redisUtilization,
			"health":      healthBand(redisUtilization),
		},
	})
}

func healthBand(utilization float64) string {
	switch {
	case utilization >= utilizationCritical:
		return "critical"
	case utilization >= utilizationHigh:
		return "high"
	case utilization >= utilizationModerate:
		return "moderate"
	default:
		return "healthy"
	}
}

type createSessionRequest struct {
	ID           string  `json:"id" binding:"required"`
	Alpha        float64 `json:"alpha"`
	Beta         float64 `json:"beta"`
	Gamma        float64 `json:"gamma"`
	Reserve      float64 `json:"reserve" binding:"gte=0"`
	Inventory    int     `json:"inventory" binding:"required,gt=0"`
	DurationSecs int     `json:"duration_seconds" binding:"required,gt=0"`
}

// createSession is an admin-only endpoint for standing up a new auction
// session, defaulting scoring weights from config when the caller omits
// them.
func (r *Router) createSession(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	alpha, beta, gamma := req.Alpha, req.Beta, req.Gamma
	if alpha == 0 {
		alpha = r.session.DefaultAlpha
	}
	if beta == 0 {
		beta = r.session.DefaultBeta
	}
	if gamma == 0 {
		gamma = r.session.DefaultGamma
	}

	now := time.Now()
	session := core.Session{
		ID:        req.ID,
		Alpha:     alpha,
		Beta:      beta,
		Gamma:     gamma,
		Reserve:   req.Reserve,
		Inventory: req.Inventory,
		StartTime: now,
		EndTime:   now.Add(time.Duration(req.DurationSecs) * time.Second),
		IsActive:  true,
	}

	if err := r.durable.CreateSession(c.Request.Context(), session); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": session.ID, "end_time": session.EndTime})
}
