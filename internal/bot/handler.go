package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"unfurl/internal/domain"
	"unfurl/internal/provider"
	"unfurl/internal/scraper"
)

// captionLimit is Telegram's photo caption length limit.
const captionLimit = 1024

// Handler replies to links with their preview.
type Handler struct {
	bot      *tgbot.Bot
	metadata *provider.MetadataProvider
	images   *provider.ImageProvider
	timeout  time.Duration
	log      logrus.FieldLogger
}

// NewHandler creates a new bot handler instance. timeout bounds how long a
// reply waits for metadata, and again for the preview image; work still
// running then finishes in the background and warms the caches. opts are
// passed to the Telegram client.
func NewHandler(token string, metadata *provider.MetadataProvider, images *provider.ImageProvider, timeout time.Duration, logger logrus.FieldLogger, opts ...tgbot.Option) (*Handler, error) {
	log := logger.WithField("component", "bot_handler")
	if token == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is not set")
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	h := &Handler{
		metadata: metadata,
		images:   images,
		timeout:  timeout,
		log:      log,
	}

	opts = append([]tgbot.Option{tgbot.WithDefaultHandler(h.defaultHandler)}, opts...)
	b, err := tgbot.New(token, opts...)
	if err != nil {
		log.WithError(err).Error("Failed to create Telegram bot instance")
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	h.bot = b
	h.registerHandlers()

	log.Info("Telegram bot handler initialized")
	return h, nil
}

func (h *Handler) registerHandlers() {
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	h.bot.RegisterHandler(tgbot.HandlerTypeMessageText, "/forget", tgbot.MatchTypePrefix, h.forgetHandler)
	h.log.Info("Registered command handlers")
}

// Start begins polling for updates from Telegram.
// This function blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped.")
}

func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	log := h.log.WithFields(logrus.Fields{
		"user_id": update.Message.From.ID,
		"command": "/start",
	})
	log.Info("Received /start command")

	_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   "Send me a link and I'll reply with its preview. /forget <link> drops what I remember about it.",
	})
	if err != nil {
		log.WithError(err).Error("Failed to send welcome message")
	}
}

func (h *Handler) forgetHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	msg := update.Message
	reference, ok := findURL(strings.TrimPrefix(msg.Text, "/forget"))
	log := h.log.WithFields(logrus.Fields{"user_id": msg.From.ID, "command": "/forget"})

	var reply string
	switch {
	case !ok:
		reply = "Usage: /forget <link>"
	default:
		err := h.metadata.Delete(ctx, reference)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			reply = "Nothing stored for that link."
		case err != nil:
			log.WithError(err).Error("Failed to delete metadata")
			reply = "Could not forget that link, try again later."
		default:
			log.WithField("reference", reference).Info("Metadata deleted")
			reply = "Forgotten."
		}
	}
	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: msg.Chat.ID, Text: reply}); err != nil {
		log.WithError(err).Error("Failed to send reply")
	}
}

func (h *Handler) defaultHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return
	}
	reference, ok := findURL(msg.Text)
	if !ok {
		h.log.WithField("chat_id", msg.Chat.ID).Debug("Message carries no link")
		return
	}
	log := h.log.WithFields(logrus.Fields{"chat_id": msg.Chat.ID, "reference": reference})

	// Replies go out on ctx; only the waits are bounded by the timeout.
	waitCtx, cancel := context.WithTimeout(ctx, h.timeout)
	meta, err := h.metadata.Get(waitCtx, reference, 0)
	cancel()
	if err != nil {
		log.WithError(err).Warn("No preview available")
		if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID: msg.Chat.ID,
			Text:   "No preview available for " + reference,
		}); err != nil {
			log.WithError(err).Error("Failed to send reply")
		}
		return
	}

	caption := formatPreview(meta, reference)
	if meta.ImageURL != nil {
		imageCtx, cancel := context.WithTimeout(ctx, h.timeout)
		img, err := h.images.Get(imageCtx, meta.ImageURL.String())
		cancel()
		if err == nil {
			_, err = b.SendPhoto(ctx, &tgbot.SendPhotoParams{
				ChatID: msg.Chat.ID,
				Photo: &models.InputFileUpload{
					Filename: "preview." + img.Format,
					Data:     bytes.NewReader(img.Data),
				},
				Caption: caption,
			})
			if err == nil {
				return
			}
			log.WithError(err).Error("Failed to send preview photo")
		} else {
			log.WithError(err).Warn("Preview image unavailable")
		}
	}

	if _, err := b.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: msg.Chat.ID, Text: caption}); err != nil {
		log.WithError(err).Error("Failed to send preview")
	}
}

// findURL returns the first http(s) link in text.
func findURL(text string) (string, bool) {
	for _, field := range strings.Fields(text) {
		candidate := strings.Trim(field, "<>()[]\"'.,;!")
		if _, err := scraper.ParseReference(candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// formatPreview renders metadata as a plain-text caption.
func formatPreview(m domain.Metadata, reference string) string {
	var lines []string
	if m.Title != nil {
		lines = append(lines, *m.Title)
	}
	if m.Description != nil {
		lines = append(lines, *m.Description)
	}
	link := reference
	if m.CanonicalURL != nil {
		link = m.CanonicalURL.String()
	}
	if m.SiteName != nil {
		link = *m.SiteName + " | " + link
	}
	lines = append(lines, link)
	return truncate(strings.Join(lines, "\n"), captionLimit)
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit-1]) + "…"
}
