// Package api is the gin operator surface: liveness, metrics, live
// events and out-of-band sync requests. It never serves mirrored
// content; that is the replica's job.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mangamirror/internal/auth"
	"mangamirror/internal/events"
	"mangamirror/internal/guard"
	"mangamirror/internal/metrics"
	"mangamirror/internal/orchestrator"
	"mangamirror/internal/store"
)

// Enqueuer schedules out-of-band syncs and reports queue state.
type Enqueuer interface {
	Enqueue(sourceName, itemID string) (string, error)
	QueueDepths() map[string]int
	Sources() []string
}

// Replicator exposes the manual flush path.
type Replicator interface {
	FlushNow(ctx context.Context) error
	Pending() int
}

type Handler struct {
	DB      *sql.DB
	Store   *store.Store
	Guard   *guard.Guard
	Metrics *metrics.Collector
	Orch    Enqueuer
	Replica Replicator
	Hub     *events.Hub
	Tokens  auth.TokenService
	AuthH   *auth.Handler
}

func NewRouter(h *Handler) *gin.Engine {
	router := gin.Default()
	_ = router.SetTrustedProxies([]string{"127.0.0.1"})

	router.GET("/health", h.health)
	router.GET("/ready", h.ready)
	router.GET("/metrics", h.metricsSnapshot)
	router.GET("/status", h.status)
	router.GET("/ws", events.WSHandler(h.Hub))

	h.AuthH.RegisterRoutes(router.Group("/auth"))

	protected := router.Group("/")
	protected.Use(auth.AuthMiddleware(h.Tokens))
	protected.POST("/sync/:source/:id", h.enqueueSync)
	protected.POST("/replica/flush", h.flushReplica)

	return router
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.DB.PingContext(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "not_ready",
			"db_error": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "db": "ok"})
}

func (h *Handler) metricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.Metrics.Snapshot())
}

func (h *Handler) status(c *gin.Context) {
	items, pages, err := h.Store.Counts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"items":           items,
		"pages":           pages,
		"active_syncs":    h.Guard.Active(),
		"queue_depths":    h.Orch.QueueDepths(),
		"sources":         h.Orch.Sources(),
		"replica_pending": h.Replica.Pending(),
		"ws_clients":      h.Hub.Stats().WSClients,
	})
}

func (h *Handler) enqueueSync(c *gin.Context) {
	sourceName := c.Param("source")
	itemID := c.Param("id")

	requestID, err := h.Orch.Enqueue(sourceName, itemID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownSource):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, orchestrator.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		case errors.Is(err, orchestrator.ErrStopped):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"request_id": requestID,
		"source":     sourceName,
		"item_id":    itemID,
	})
}

func (h *Handler) flushReplica(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	if err := h.Replica.FlushNow(ctx); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "flushed"})
}
