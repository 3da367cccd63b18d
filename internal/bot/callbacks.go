package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"site_tracker/internal/fingerprint"
	"site_tracker/internal/model"
)

// Callback actions. Payloads carry fingerprint.Key of the page URL so they fit the
// 64-byte callback data limit.
const (
	actionFiles          = "files"
	actionUntrackConfirm = "untrack_confirm"
	actionUntrack        = "untrack"
	actionNoop           = "noop"
)

func callbackData(action, pageURL string) string {
	return action + ":" + fingerprint.Key(pageURL)
}

func newListMessage(chatID int64, pages []model.TrackedPage) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, FormatPageList(pages))
	msg.DisableWebPagePreview = true

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(pages))
	for i, p := range pages {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Files #%d", i+1), callbackData(actionFiles, p.URL)),
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Untrack #%d", i+1), callbackData(actionUntrackConfirm, p.URL)),
		))
	}
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return msg
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	if ok, denial := b.authorize(ctx, cb.Message.Chat, cb.From); !ok {
		b.reply(chatID, denial)
		return
	}

	action, key, found := strings.Cut(cb.Data, ":")
	if !found || action == actionNoop {
		return
	}

	b.log.Info("callback", "action", action, "key", key, "chat_id", chatID)

	pageURL, ok := b.resolveKey(ctx, chatID, key)
	if !ok {
		b.reply(chatID, "This URL is no longer tracked.")
		return
	}

	switch action {
	case actionFiles:
		b.sendDocuments(ctx, chatID, pageURL)
	case actionUntrackConfirm:
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Stop tracking %s?", pageURL))
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, untrack", callbackData(actionUntrack, pageURL)),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", actionNoop+":"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send untrack confirmation", "error", err)
		}
	case actionUntrack:
		b.untrack(ctx, chatID, pageURL)
	}
}

// resolveKey finds the tracked page of chatID whose URL matches a callback key.
func (b *Bot) resolveKey(ctx context.Context, chatID int64, key string) (string, bool) {
	pages, err := b.tracker.Pages(ctx, chatID)
	if err != nil {
		b.log.Error("list pages", "chat_id", chatID, "error", err)
		return "", false
	}
	for _, p := range pages {
		if fingerprint.Key(p.URL) == key {
			return p.URL, true
		}
	}
	return "", false
}
