package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const engineCallbackPrefix = "engine:"

// makeEngineKeyboard offers one button per configured engine plus a reset.
func makeEngineKeyboard(names []string) tgbotapi.InlineKeyboardMarkup {
	row := make([]tgbotapi.InlineKeyboardButton, 0, len(names)+1)
	for _, n := range names {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(n, engineCallbackPrefix+n))
	}
	row = append(row, tgbotapi.NewInlineKeyboardButtonData("default", engineCallbackPrefix+"default"))
	return tgbotapi.NewInlineKeyboardMarkup(row)
}
