package handle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tick-relay/api/internal/store"
	"tick-relay/api/internal/util"
	"tick-relay/api/internal/vision"
)

const formField = "file"

// DetectTick accepts one multipart upload in the "file" field and answers
// {"result": ...} or {"detail": ...}.
func (h *Handle) DetectTick(c *gin.Context) {
	if h.maxUpload > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload)
	}

	fh, err := c.FormFile(formField)
	if err != nil {
		if isTooLarge(err) {
			writeError(c, http.StatusRequestEntityTooLarge, fmt.Sprintf("file exceeds %d bytes", h.maxUpload))
			return
		}
		h.log.Debug("no upload in request", zap.Error(err))
		writeError(c, http.StatusBadRequest, "file is required")
		return
	}

	img := vision.UploadedImage{MediaType: fh.Header.Get("Content-Type")}
	res, err := h.classify(c.Request.Context(), fh, &img)

	status := http.StatusOK
	detail := ""
	if err != nil {
		status, detail = vision.ErrorStatus(err)
		h.logFailure(c, status, err)
	}
	h.record(c, img, status, res.Result, detail)

	if err != nil {
		writeError(c, status, detail)
		return
	}
	c.JSON(http.StatusOK, res)
}

// classify reads the upload only when its media type can pass validation;
// the relay makes the final call.
func (h *Handle) classify(ctx context.Context, fh *multipart.FileHeader, img *vision.UploadedImage) (vision.ClassificationResult, error) {
	if util.IsImageMediaType(img.MediaType) {
		data, err := readUpload(fh)
		if err != nil {
			return vision.ClassificationResult{}, &vision.InternalError{Err: err}
		}
		img.Data = data
	}
	return h.relay.Classify(ctx, *img)
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (h *Handle) logFailure(c *gin.Context, status int, err error) {
	fields := []zap.Field{
		zap.String("request_id", RequestID(c)),
		zap.Int("status", status),
		zap.Error(err),
	}
	var up *vision.UpstreamError
	var inv *vision.InvalidInputError
	switch {
	case errors.As(err, &inv):
		h.log.Info("upload rejected", fields...)
	case errors.As(err, &up):
		h.log.Warn("provider returned an error", fields...)
	default:
		h.log.Error("classification failed", fields...)
	}
}

// record stores the attempt; failures are logged and never change the response.
func (h *Handle) record(c *gin.Context, img vision.UploadedImage, status int, result, detail string) {
	if h.audit == nil {
		return
	}
	eng := h.relay.Engine()
	e := store.Entry{
		RequestID:   RequestID(c),
		Source:      "http",
		ImageSHA256: store.ImageHash(img.Data),
		MediaType:   img.MediaType,
		Size:        len(img.Data),
		Status:      status,
		Result:      result,
		Detail:      detail,
	}
	if eng != nil {
		e.Engine, e.Model = eng.Name(), eng.GetModel()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 5*time.Second)
	defer cancel()
	if err := h.audit.Record(ctx, e); err != nil {
		h.log.Warn("audit record failed", zap.String("request_id", e.RequestID), zap.Error(err))
	}
}

func isTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}
