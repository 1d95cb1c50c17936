package handle

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *Handle) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Healthz answers plain "ok", or 503 when the audit database is unreachable.
func (h *Handle) Healthz(c *gin.Context) {
	if h.audit != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.audit.Ping(ctx); err != nil {
			c.String(http.StatusServiceUnavailable, "db: not ok\n"+err.Error())
			return
		}
	}
	c.String(http.StatusOK, "ok")
}

// Audit lists recent classification attempts: GET /audit?limit=N.
func (h *Handle) Audit(c *gin.Context) {
	if h.audit == nil || !h.auditEndpoint {
		writeError(c, http.StatusNotFound, "audit log is disabled")
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("audit query failed", zap.String("request_id", RequestID(c)), zap.Error(err))
		writeError(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
