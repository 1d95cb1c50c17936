package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tick-relay/api/internal/store"
	"tick-relay/api/internal/util"
	"tick-relay/api/internal/vision"
)

// maxReply stays under Telegram's 4096 character message limit.
const maxReply = 3900

var downloadClient = &http.Client{Timeout: 60 * time.Second}

// acceptImage classifies a photo or an image document with the chat's engine.
func (r *Router) acceptImage(ctx context.Context, msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	fileID, mediaType := pickImage(msg)

	img := vision.UploadedImage{MediaType: mediaType}
	eng := r.EngManager.Get(cid)
	var (
		res vision.ClassificationResult
		err error
	)
	// Documents sent without a MIME type are typed by their content.
	if mediaType == "" || util.IsImageMediaType(mediaType) {
		r.sendAction(cid)
		img.Data, err = r.download(ctx, fileID)
		if err != nil {
			err = &vision.InternalError{Err: err}
		} else if mediaType == "" {
			img.MediaType = util.SniffMimeHTTP(img.Data)
		}
	}
	if err == nil {
		res, err = r.Relay.ClassifyWith(ctx, eng, img)
	}

	status, detail := http.StatusOK, ""
	if err != nil {
		status, detail = vision.ErrorStatus(err)
		r.logger().Warn("telegram classification failed",
			zap.Int64("chat_id", cid), zap.Int("status", status), zap.Error(err))
	}
	r.record(ctx, msg, eng, img, status, res.Result, detail)

	if err != nil {
		r.send(cid, errorText(status, detail, err))
		return
	}
	r.SendResult(cid, res.Result)
}

// pickImage returns the largest photo size (always JPEG) or the document and
// its declared type, which may be empty.
func pickImage(msg *tgbotapi.Message) (fileID, mediaType string) {
	if n := len(msg.Photo); n > 0 {
		return msg.Photo[n-1].FileID, "image/jpeg"
	}
	if msg.Document != nil {
		return msg.Document.FileID, strings.TrimSpace(msg.Document.MimeType)
	}
	return "", ""
}

func (r *Router) download(ctx context.Context, fileID string) ([]byte, error) {
	file, err := r.Bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	endpoint := r.FileEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.FileEndpoint
	}
	url := fmt.Sprintf(endpoint, r.Bot.Token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	resp, err := downloadClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (r *Router) SendResult(chatID int64, text string) {
	r.send(chatID, "🔎 "+util.Truncate(strings.TrimSpace(text), maxReply))
}

func errorText(status int, detail string, err error) string {
	var inv *vision.InvalidInputError
	var up *vision.UpstreamError
	switch {
	case errors.As(err, &inv):
		return "⚠️ " + detail
	case errors.As(err, &up):
		return util.Truncate(fmt.Sprintf("❌ Provider error %d: %s", status, detail), maxReply)
	default:
		return util.Truncate("❌ Error: "+detail, maxReply)
	}
}

func (r *Router) sendAction(chatID int64) {
	_, _ = r.Bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
}

func (r *Router) record(ctx context.Context, msg *tgbotapi.Message, eng vision.Engine, img vision.UploadedImage, status int, result, detail string) {
	if r.Audit == nil {
		return
	}
	e := store.Entry{
		RequestID:   fmt.Sprintf("tg:%d:%d", msg.Chat.ID, msg.MessageID),
		Source:      "telegram",
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
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.Audit.Record(ctx, e); err != nil {
		r.logger().Warn("audit record failed", zap.String("request_id", e.RequestID), zap.Error(err))
	}
}
