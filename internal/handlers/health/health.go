package health

import (
	"net/http"
	"runtime"
	"time"

	"gembalance-go/internal/credential"
	"gembalance-go/internal/storage"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Handler serves liveness and dependency health endpoints.
type Handler struct {
	pool  *credential.Pool
	store storage.Backend
	start time.Time
}

// NewHandler builds the health handler.
func NewHandler(pool *credential.Pool, store storage.Backend) *Handler {
	return &Handler{pool: pool, store: store, start: time.Now()}
}

// Register mounts the health routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.basic)
	r.GET("/health/detailed", h.detailed)
	r.GET("/health/db", h.db)
	r.GET("/health/keys", h.keys)
}

func (h *Handler) basic(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) detailed(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"system_info": gin.H{
			"os":             runtime.GOOS,
			"arch":           runtime.GOARCH,
			"go_version":     runtime.Version(),
			"goroutines":     runtime.NumGoroutine(),
			"heap_in_use_mb": mem.HeapInuse / (1 << 20),
			"uptime_sec":     int64(time.Since(h.start).Seconds()),
		},
	})
}

func (h *Handler) db(c *gin.Context) {
	start := time.Now()
	err := h.store.Health(c.Request.Context())
	latency := time.Since(start)

	status := "healthy"
	conn := "ok"
	code := http.StatusOK
	if err != nil {
		log.WithError(err).Error("storage health check failed")
		status = "unhealthy"
		conn = "failed"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":              status,
		"database_connection": conn,
		"response_time_ms":    latency.Milliseconds(),
		"timestamp":           time.Now().Unix(),
	})
}

func (h *Handler) keys(c *gin.Context) {
	valid, invalid, err := h.pool.KeysByStatus(c.Request.Context())
	if err != nil {
		log.WithError(err).Error("keys health check failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":    "unhealthy",
			"error":     err.Error(),
			"timestamp": time.Now().Unix(),
		})
		return
	}

	validCount := len(valid)
	invalidCount := len(invalid)
	total := validCount + invalidCount

	status := "healthy"
	if validCount == 0 {
		status = "warning"
	}
	var validPct float64
	if total > 0 {
		validPct = float64(validCount) / float64(total) * 100
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"keys_status": gin.H{
			"valid_count":      validCount,
			"invalid_count":    invalidCount,
			"total_count":      total,
			"valid_percentage": validPct,
		},
		"timestamp": time.Now().Unix(),
	})
}
