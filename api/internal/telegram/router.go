package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"tick-relay/api/internal/store"
	"tick-relay/api/internal/vision"
)

// Recorder stores classification attempts made from chats.
type Recorder interface {
	Record(ctx context.Context, e store.Entry) error
}

type Router struct {
	Bot        *tgbotapi.BotAPI
	Relay      *vision.Relay
	EngManager *vision.Manager
	Engines    vision.Engines
	Audit      Recorder // optional
	Log        *zap.Logger

	// FileEndpoint is the download URL pattern, token then file path.
	// Empty means tgbotapi.FileEndpoint.
	FileEndpoint string
}

const usage = "Send a photo of a suspected tick and I will tell you whether it is one.\n" +
	"Commands: /health, /engine [azure|gemini|default]"

func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		r.handleCallback(*upd.CallbackQuery)
		return
	}
	if upd.Message == nil {
		return
	}
	msg := upd.Message

	switch {
	case msg.IsCommand():
		r.HandleCommand(msg)
	case len(msg.Photo) > 0 || msg.Document != nil:
		r.acceptImage(ctx, msg)
	default:
		r.send(msg.Chat.ID, usage)
	}
}

func (r *Router) HandleCommand(msg *tgbotapi.Message) {
	cid := msg.Chat.ID
	switch msg.Command() {
	case "start", "help":
		r.send(cid, usage)
	case "health":
		r.send(cid, "✅ OK")
	case "engine":
		r.handleEngineCommand(cid, msg.CommandArguments())
	default:
		r.send(cid, "Unknown command. "+usage)
	}
}

// handleEngineCommand switches the engine for one chat.
//
//	/engine           show the current engine and a picker
//	/engine gemini    switch
//	/engine default   back to the server default
func (r *Router) handleEngineCommand(chatID int64, args string) {
	name := strings.ToLower(strings.TrimSpace(args))
	if name == "" {
		cur := r.EngManager.Get(chatID)
		text := "Current engine: none"
		if cur != nil {
			text = fmt.Sprintf("Current engine: %s (%s)", cur.Name(), cur.GetModel())
		}
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ReplyMarkup = makeEngineKeyboard(r.Engines.Available())
		r.sendMessage(msg)
		return
	}
	r.send(chatID, r.switchEngine(chatID, name))
}

// switchEngine applies the choice and returns the reply text.
func (r *Router) switchEngine(chatID int64, name string) string {
	if name == "default" {
		r.EngManager.Reset(chatID)
		return "✅ Engine reset to the default."
	}
	eng, err := r.Engines.GetEngine(name)
	if err != nil {
		return "❌ " + err.Error()
	}
	r.EngManager.Set(chatID, eng)
	return fmt.Sprintf("✅ Engine: %s (%s).", eng.Name(), eng.GetModel())
}

func (r *Router) handleCallback(cb tgbotapi.CallbackQuery) {
	name, ok := strings.CutPrefix(cb.Data, engineCallbackPrefix)
	if !ok || cb.Message == nil {
		r.answerCallback(cb.ID, "")
		return
	}
	reply := r.switchEngine(cb.Message.Chat.ID, name)
	r.answerCallback(cb.ID, reply)
	r.send(cb.Message.Chat.ID, reply)
}

func (r *Router) answerCallback(id, text string) {
	if _, err := r.Bot.Request(tgbotapi.NewCallback(id, text)); err != nil {
		r.logger().Warn("answer callback failed", zap.Error(err))
	}
}

func (r *Router) send(chatID int64, text string) {
	r.sendMessage(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) sendMessage(msg tgbotapi.MessageConfig) {
	if _, err := r.Bot.Send(msg); err != nil {
		r.logger().Warn("send message failed", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
	}
}

func (r *Router) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
