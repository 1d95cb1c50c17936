package handle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"tick-relay/api/internal/store"
	"tick-relay/api/internal/vision"
	"tick-relay/api/internal/vision/azure"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockAudit struct {
	mock.Mock
}

func (m *MockAudit) Record(ctx context.Context, e store.Entry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *MockAudit) Recent(ctx context.Context, limit int) ([]store.Entry, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Entry), args.Error(1)
}

func (m *MockAudit) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// provider is a fake chat-completions endpoint that counts calls and keeps the last body.
type provider struct {
	srv   *httptest.Server
	calls int32
	last  atomic.Value // []byte
}

func newProvider(t *testing.T, status int, reply string) *provider {
	t.Helper()
	p := &provider{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&p.calls, 1)
		b, _ := io.ReadAll(r.Body)
		p.last.Store(b)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(p.srv.Close)
	return p
}

func (p *provider) Calls() int { return int(atomic.LoadInt32(&p.calls)) }

func (p *provider) LastBody() []byte {
	b, _ := p.last.Load().([]byte)
	return b
}

func newRouter(h *Handle) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.POST("/detect-tick", h.DetectTick)
	r.GET("/health", h.Health)
	r.GET("/healthz", h.Healthz)
	r.GET("/audit", h.Audit)
	return r
}

func newHandle(p *provider, audit AuditLog, maxUpload int64) *Handle {
	eng := azure.New(p.srv.URL, "tick-detection-model", "test-key", "api-key", 0)
	return New(vision.NewRelay(eng), audit, maxUpload, nil)
}

func uploadRequest(t *testing.T, field, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename="upload.bin"`, field))
	if contentType != "" {
		hdr.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect-tick", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01, 0xFF, 0xD9}

func TestDetectTick_RejectsNonImage(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{"choices":[{"message":{"content":"Yes"}}]}`)
	r := newRouter(newHandle(p, nil, 0))

	rec := serve(r, uploadRequest(t, "file", "text/plain", []byte("not an image")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Please upload an image file"}`, rec.Body.String())
	assert.Equal(t, 0, p.Calls())
}

func TestDetectTick_Success(t *testing.T) {
	for _, mt := range []string{"image/jpeg", "image/png"} {
		t.Run(mt, func(t *testing.T) {
			p := newProvider(t, http.StatusOK, `{"choices":[{"message":{"content":"Yes"}}]}`)
			r := newRouter(newHandle(p, nil, 0))

			rec := serve(r, uploadRequest(t, "file", mt, jpegBytes))

			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			assert.JSONEq(t, `{"result":"Yes"}`, rec.Body.String())
			assert.Equal(t, 1, p.Calls())

			uri := gjson.GetBytes(p.LastBody(), "messages.0.content.1.image_url.url").String()
			i := strings.Index(uri, ";base64,")
			require.Greater(t, i, 0, uri)
			decoded, err := base64.StdEncoding.DecodeString(uri[i+len(";base64,"):])
			require.NoError(t, err)
			assert.Equal(t, jpegBytes, decoded)
		})
	}
}

func TestDetectTick_UpstreamErrorPassesThrough(t *testing.T) {
	p := newProvider(t, http.StatusUnauthorized, `{"error":"invalid key"}`)
	r := newRouter(newHandle(p, nil, 0))

	rec := serve(r, uploadRequest(t, "file", "image/jpeg", jpegBytes))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body struct {
		Detail string `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Detail, `{"error":"invalid key"}`)
}

func TestDetectTick_NonOKSuccessStatusIsBadGateway(t *testing.T) {
	for _, status := range []int{http.StatusCreated, http.StatusNoContent} {
		p := newProvider(t, status, "")
		rec := serve(newRouter(newHandle(p, nil, 0)), uploadRequest(t, "file", "image/jpeg", jpegBytes))

		assert.Equal(t, http.StatusBadGateway, rec.Code, status)
		assert.True(t, gjson.Get(rec.Body.String(), "detail").Exists(), rec.Body.String())
	}
}

func TestDetectTick_MissingChoicesIsInternal(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{"id":"chatcmpl-1","object":"chat.completion"}`)
	r := newRouter(newHandle(p, nil, 0))

	rec := serve(r, uploadRequest(t, "file", "image/jpeg", jpegBytes))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"result"`)
	assert.NotEmpty(t, gjson.Get(rec.Body.String(), "detail").String())
}

func TestDetectTick_MissingFile(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{}`)
	r := newRouter(newHandle(p, nil, 0))

	t.Run("wrong field name", func(t *testing.T) {
		rec := serve(r, uploadRequest(t, "image", "image/jpeg", jpegBytes))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.JSONEq(t, `{"detail":"file is required"}`, rec.Body.String())
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/detect-tick", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(r, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	assert.Equal(t, 0, p.Calls())
}

func TestDetectTick_TooLarge(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{"choices":[{"message":{"content":"Yes"}}]}`)
	r := newRouter(newHandle(p, nil, 64))

	rec := serve(r, uploadRequest(t, "file", "image/jpeg", bytes.Repeat([]byte{0xAB}, 4096)))

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, p.Calls())
}

func TestDetectTick_RecordsAudit(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		p := newProvider(t, http.StatusOK, `{"choices":[{"message":{"content":"No"}}]}`)
		audit := new(MockAudit)
		audit.On("Record", mock.Anything, mock.MatchedBy(func(e store.Entry) bool {
			return e.Source == "http" &&
				e.Engine == "azure" &&
				e.Model == "tick-detection-model" &&
				e.Status == http.StatusOK &&
				e.Result == "No" &&
				e.Size == len(jpegBytes) &&
				e.ImageSHA256 == store.ImageHash(jpegBytes) &&
				e.RequestID == "req-42"
		})).Return(nil).Once()

		req := uploadRequest(t, "file", "image/jpeg", jpegBytes)
		req.Header.Set(RequestIDHeader, "req-42")
		rec := serve(newRouter(newHandle(p, audit, 0)), req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "req-42", rec.Header().Get(RequestIDHeader))
		audit.AssertExpectations(t)
	})

	t.Run("failure is recorded and audit errors are ignored", func(t *testing.T) {
		p := newProvider(t, http.StatusTooManyRequests, `rate limited`)
		audit := new(MockAudit)
		audit.On("Record", mock.Anything, mock.MatchedBy(func(e store.Entry) bool {
			return e.Status == http.StatusTooManyRequests && e.Detail == "rate limited" && e.Result == ""
		})).Return(errors.New("db down")).Once()

		rec := serve(newRouter(newHandle(p, audit, 0)), uploadRequest(t, "file", "image/png", jpegBytes))

		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.JSONEq(t, `{"detail":"rate limited"}`, rec.Body.String())
		audit.AssertExpectations(t)
	})
}

func TestHealth(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{}`)

	rec := serve(newRouter(newHandle(p, nil, 0)), httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = serve(newRouter(newHandle(p, nil, 0)), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	audit := new(MockAudit)
	audit.On("Ping", mock.Anything).Return(errors.New("connection refused"))
	rec = serve(newRouter(newHandle(p, audit, 0)), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestAudit(t *testing.T) {
	p := newProvider(t, http.StatusOK, `{}`)

	t.Run("no store", func(t *testing.T) {
		h := newHandle(p, nil, 0).WithAuditEndpoint(true)
		rec := serve(newRouter(h), httptest.NewRequest(http.MethodGet, "/audit", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("store without the endpoint flag", func(t *testing.T) {
		audit := new(MockAudit)
		rec := serve(newRouter(newHandle(p, audit, 0)), httptest.NewRequest(http.MethodGet, "/audit", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
		audit.AssertNotCalled(t, "Recent", mock.Anything, mock.Anything)
	})

	t.Run("bad limit", func(t *testing.T) {
		h := newHandle(p, new(MockAudit), 0).WithAuditEndpoint(true)
		rec := serve(newRouter(h), httptest.NewRequest(http.MethodGet, "/audit?limit=x", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("lists entries", func(t *testing.T) {
		audit := new(MockAudit)
		audit.On("Recent", mock.Anything, 2).Return([]store.Entry{
			{ID: 2, Source: "http", Status: 200, Result: "Yes"},
			{ID: 1, Source: "telegram", Status: 400, Detail: "Please upload an image file"},
		}, nil)

		h := newHandle(p, audit, 0).WithAuditEndpoint(true)
		rec := serve(newRouter(h), httptest.NewRequest(http.MethodGet, "/audit?limit=2", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(2), gjson.Get(rec.Body.String(), "entries.#").Int())
		assert.Equal(t, "Yes", gjson.Get(rec.Body.String(), "entries.0.result").String())
		audit.AssertExpectations(t)
	})
}
