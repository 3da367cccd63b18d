package bot

import (
	"context"
	"errors"
	"fmt"

	"site_tracker/internal/export"
	"site_tracker/internal/fetcher"
	"site_tracker/internal/storage"
	"site_tracker/internal/tracker"
)

const (
	cmdAddSudo       = "addsudo"
	cmdRemoveSudo    = "removesudo"
	cmdAddChannel    = "addchannel"
	cmdRemoveChannel = "removechannel"
)

const (
	msgUnauthorizedUser    = "You are not authorized to use this bot."
	msgUnauthorizedChannel = "This channel is not authorized."
	msgNotAllowedHere      = "Command not allowed here."
	msgOwnerOnly           = "Only the owner can manage access."
	msgNoPages             = "No tracked URLs. Use /track <url> to add one."
)

func (b *Bot) handleStart(chatID int64) {
	b.reply(chatID, `Website Tracker Bot

Track web pages and receive new documents and images as they appear.

Commands:
/track <url> - start tracking a website
/untrack <url> - stop tracking
/list - show tracked websites
/documents <url> - get the list of known files
/help - show help`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Tracking:
/track <url> - start tracking a website (http:// or https://)
/untrack <url> - stop tracking
/list - show tracked websites with file counts
/documents <url> - get the list of known files

Access (owner only, private chat):
/addsudo <user_id> - allow a user
/removesudo <user_id> - revoke a user
/addchannel <channel_id> - allow a channel
/removechannel <channel_id> - revoke a channel

Pages are checked every `+b.cfg.CheckInterval.String()+`. New documents and images are sent as files.`)
}

func (b *Bot) handleTrack(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /track <url>")
		return
	}

	page, err := b.tracker.Track(ctx, chatID, url)
	var fe *fetcher.FetchError
	switch {
	case errors.Is(err, tracker.ErrInvalidURL):
		b.reply(chatID, "Invalid URL format. Use an http:// or https:// address.")
	case errors.Is(err, storage.ErrAlreadyTracked):
		b.reply(chatID, "Already tracking this URL.")
	case errors.As(err, &fe):
		b.reply(chatID, fmt.Sprintf("Failed to access URL: %v", fe))
	case err != nil:
		b.log.Error("track page", "chat_id", chatID, "url", url, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Tracking started: %s\nFiles found: %d", page.URL, len(page.Resources)))
	}
}

func (b *Bot) handleUntrack(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /untrack <url>")
		return
	}
	b.untrack(ctx, chatID, url)
}

func (b *Bot) untrack(ctx context.Context, chatID int64, url string) {
	err := b.tracker.Untrack(ctx, chatID, url)
	switch {
	case errors.Is(err, storage.ErrNotTracked):
		b.reply(chatID, "URL not tracked: "+url)
	case err != nil:
		b.log.Error("untrack page", "chat_id", chatID, "url", url, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, "Stopped tracking: "+url)
	}
}

func (b *Bot) handleList(ctx context.Context, chatID int64) {
	pages, err := b.tracker.Pages(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(pages) == 0 {
		b.reply(chatID, msgNoPages)
		return
	}

	msg := newListMessage(chatID, pages)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send page list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleDocuments(ctx context.Context, chatID int64, args string) {
	url, err := ParseURLArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /documents <url>")
		return
	}
	b.sendDocuments(ctx, chatID, url)
}

// sendDocuments uploads the full stored listing of a tracked page.
func (b *Bot) sendDocuments(ctx context.Context, chatID int64, url string) {
	page, err := b.tracker.Page(ctx, chatID, url)
	if errors.Is(err, storage.ErrNotTracked) {
		b.reply(chatID, "URL not tracked: "+url)
		return
	}
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if len(page.Resources) == 0 {
		b.reply(chatID, "No files found at "+page.URL)
		return
	}

	listing, err := b.exporter.Write(page.URL, page.Resources)
	if errors.Is(err, export.ErrTooLarge) {
		b.reply(chatID, "The file list is too large to send.")
		return
	}
	if err != nil {
		b.log.Error("export listing", "chat_id", chatID, "url", page.URL, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	defer func() {
		if err := listing.Remove(); err != nil {
			b.log.Warn("remove listing", "path", listing.Path, "error", err)
		}
	}()

	caption := fmt.Sprintf("Files at %s (%d)", page.URL, len(page.Resources))
	if err := b.NotifyDocument(ctx, chatID, listing.Path, caption); err != nil {
		b.log.Error("send listing", "chat_id", chatID, "url", page.URL, "error", err)
		b.reply(chatID, fmt.Sprintf("Failed to send file list: %v", err))
	}
}

func (b *Bot) handleAccess(ctx context.Context, chatID int64, cmd, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <id>", cmd))
		return
	}

	var (
		changed bool
		text    string
	)
	switch cmd {
	case cmdAddSudo:
		changed, err = b.store.AddSudoUser(ctx, id)
		text = pick(changed, "User %d added to sudo list.", "User %d is already a sudo user.")
	case cmdRemoveSudo:
		changed, err = b.store.RemoveSudoUser(ctx, id)
		text = pick(changed, "User %d removed from sudo list.", "User %d is not in the sudo list.")
	case cmdAddChannel:
		changed, err = b.store.AddChannel(ctx, id)
		text = pick(changed, "Channel %d authorized.", "Channel %d is already authorized.")
	case cmdRemoveChannel:
		changed, err = b.store.RemoveChannel(ctx, id)
		text = pick(changed, "Channel %d removed.", "Channel %d is not authorized.")
	}
	if err != nil {
		b.log.Error("update access list", "cmd", cmd, "id", id, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	b.log.Info("access list updated", "cmd", cmd, "id", id, "changed", changed)
	b.reply(chatID, fmt.Sprintf(text, id))
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}
