package handle

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tick-relay/api/internal/store"
	"tick-relay/api/internal/vision"
)

// AuditLog is the optional store of classification attempts.
type AuditLog interface {
	Record(ctx context.Context, e store.Entry) error
	Recent(ctx context.Context, limit int) ([]store.Entry, error)
	Ping(ctx context.Context) error
}

type Handle struct {
	relay         *vision.Relay
	audit         AuditLog
	auditEndpoint bool
	maxUpload     int64
	log           *zap.Logger
}

// New wires the handlers. audit may be nil; maxUpload <= 0 disables the size limit.
func New(relay *vision.Relay, audit AuditLog, maxUpload int64, log *zap.Logger) *Handle {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handle{
		relay:     relay,
		audit:     audit,
		maxUpload: maxUpload,
		log:       log,
	}
}

// WithAuditEndpoint turns GET /audit on. It still answers 404 without an audit log.
func (h *Handle) WithAuditEndpoint(on bool) *Handle {
	h.auditEndpoint = on
	return h
}

func writeError(c *gin.Context, code int, detail string) {
	c.AbortWithStatusJSON(code, gin.H{"detail": detail})
}
