package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"site_tracker/internal/config"
	"site_tracker/internal/export"
	"site_tracker/internal/storage"
	"site_tracker/internal/tracker"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot is the Telegram bot that handles user commands and delivers notifications.
type Bot struct {
	api      telegramAPI
	store    storage.Storage
	tracker  *tracker.Tracker
	exporter *export.Exporter
	cfg      *config.Config
	log      *slog.Logger
}

// New creates a Bot with the given Telegram token.
func New(token string, store storage.Storage, tr *tracker.Tracker, exp *export.Exporter, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api:      api,
		store:    store,
		tracker:  tr,
		exporter: exp,
		cfg:      cfg,
		log:      log,
	}, nil
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	u.AllowedUpdates = []string{"message", "channel_post", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil {
		msg = update.ChannelPost
	}
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	if ok, denial := b.authorize(ctx, msg.Chat, msg.From); !ok {
		b.log.Info("command denied", "chat_id", msg.Chat.ID, "chat_type", msg.Chat.Type, "cmd", msg.Command())
		b.reply(msg.Chat.ID, denial)
		return
	}
	b.handleCommand(ctx, msg)
}

// authorize decides whether a chat may use the bot. Private chats are allowed for
// the owner, configured users and stored sudo users; channels must be on the
// stored channel list. Any other chat type is refused.
func (b *Bot) authorize(ctx context.Context, chat *tgbotapi.Chat, from *tgbotapi.User) (bool, string) {
	switch {
	case chat.IsPrivate():
		if from == nil {
			return false, msgUnauthorizedUser
		}
		if b.cfg.IsUserAllowed(from.ID) {
			return true, ""
		}
		ok, err := b.store.IsSudoUser(ctx, from.ID)
		if err != nil {
			b.log.Error("check sudo user", "user_id", from.ID, "error", err)
		}
		if !ok {
			return false, msgUnauthorizedUser
		}
		return true, ""
	case chat.IsChannel():
		ok, err := b.store.IsChannelAuthorized(ctx, chat.ID)
		if err != nil {
			b.log.Error("check channel", "chat_id", chat.ID, "error", err)
		}
		if !ok {
			return false, msgUnauthorizedChannel
		}
		return true, ""
	default:
		return false, msgNotAllowedHere
	}
}

func (b *Bot) isOwner(msg *tgbotapi.Message) bool {
	return msg.Chat.IsPrivate() && msg.From != nil && msg.From.ID == b.cfg.OwnerID
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "track":
		b.handleTrack(ctx, chatID, args)
	case "untrack":
		b.handleUntrack(ctx, chatID, args)
	case "list":
		b.handleList(ctx, chatID)
	case "documents":
		b.handleDocuments(ctx, chatID, args)
	case cmdAddSudo, cmdRemoveSudo, cmdAddChannel, cmdRemoveChannel:
		if !b.isOwner(msg) {
			b.reply(chatID, msgOwnerOnly)
			return
		}
		b.handleAccess(ctx, chatID, cmd, args)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

// NotifyText sends a text message to a subscriber.
func (b *Bot) NotifyText(_ context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// NotifyDocument uploads a file to a subscriber.
func (b *Bot) NotifyDocument(_ context.Context, chatID int64, path, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(path))
	doc.Caption = TruncateCaption(caption)
	if _, err := b.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.NotifyText(context.Background(), chatID, text); err != nil {
		b.log.Error("reply", "chat_id", chatID, "error", err)
	}
}
