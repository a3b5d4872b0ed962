package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"wardsync/internal/coordinator"
	"wardsync/internal/entity"
	"wardsync/internal/oplog"
)

// Server mounts the HTTP surface over the coordinator and the store.
type Server struct {
	coord    *coordinator.Coordinator
	store    oplog.Store
	maxBatch int
}

func NewServer(coord *coordinator.Coordinator, store oplog.Store, maxBatch int) *Server {
	if maxBatch <= 0 {
		maxBatch = coordinator.DefaultMaxBatch
	}
	return &Server{coord: coord, store: store, maxBatch: maxBatch}
}

// Router builds the gin engine with request logging, panic recovery and
// request ids.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L(), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L(), true))
	router.Use(requestID())

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "online")
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/sync", s.handleSync)
		v1.GET("/entities/:type/:id", s.handleGetRecord)
		v1.GET("/entities/:type/:id/operations", s.handleGetOperations)
	}
	return router
}

// requestID tags every request so device retries can be correlated in
// the logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) handleSync(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}
	var req syncRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request: " + err.Error()})
		return
	}
	if req.DeviceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "device_id is required"})
		return
	}
	if len(req.Operations) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operations must not be empty"})
		return
	}
	if len(req.Operations) > s.maxBatch {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("batch of %d operations exceeds limit %d", len(req.Operations), s.maxBatch)})
		return
	}

	batch := make([]entity.Operation, 0, len(req.Operations))
	decodeRejected := make([]coordinator.Rejection, 0)
	for _, w := range req.Operations {
		op, err := w.decode(req.DeviceID)
		if err != nil {
			decodeRejected = append(decodeRejected, coordinator.Rejection{
				Ref:    w.ref(req.DeviceID),
				Reason: "validation_error: " + err.Error(),
			})
			continue
		}
		batch = append(batch, op)
	}

	if len(batch) == 0 {
		// Nothing decoded, but the batch was processed: every operation
		// is accounted for in rejected.
		c.JSON(http.StatusOK, coordinator.Result{
			Merged:   []entity.Record{},
			Rejected: decodeRejected,
		})
		return
	}

	res, err := s.coord.Synchronize(c.Request.Context(), req.DeviceID, req.knownClock(), batch)
	switch {
	case err == nil:
	case errors.Is(err, coordinator.ErrMissingDevice),
		errors.Is(err, coordinator.ErrEmptyBatch),
		errors.Is(err, coordinator.ErrBatchTooLarge):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, oplog.ErrUnavailable):
		zap.S().Errorf("sync for device %s failed: %s", req.DeviceID, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable, retry the batch"})
		return
	default:
		zap.S().Errorf("sync for device %s failed: %s", req.DeviceID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	res.Rejected = append(res.Rejected, decodeRejected...)
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetRecord(c *gin.Context) {
	entityType, err := entity.ParseType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.store.Load(c.Request.Context(), entityType, c.Param("id"))
	if err != nil {
		zap.S().Errorf("load %s/%s failed: %s", entityType, c.Param("id"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such entity"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleGetOperations(c *gin.Context) {
	entityType, err := entity.ParseType(c.Param("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ops, err := s.store.Operations(c.Request.Context(), entityType, c.Param("id"))
	if err != nil {
		zap.S().Errorf("history %s/%s failed: %s", entityType, c.Param("id"), err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entity_type": entityType,
		"entity_id":   c.Param("id"),
		"operations":  ops,
	})
}
