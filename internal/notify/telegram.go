package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	// Token is the bot API token from @BotFather.
	Token string
	// ChatID is the destination chat.
	ChatID int64
	// RatePerMin caps outgoing messages. Default: 20/min, Telegram's own
	// per-chat guidance; the login alert path depends on this cap so a
	// flapping cookie cannot flood the chat.
	RatePerMin int
	// SendTimeout bounds one API call. Default: 20s.
	SendTimeout time.Duration

	Logger *slog.Logger
}

func (c *TelegramConfig) defaults() {
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 20 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Telegram sends messages through the bot API. Send-only: no poller runs.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tele.Bot
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewTelegram creates the notifier and validates the token against the bot
// API once.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	cfg.defaults()
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	perSec := rate.Limit(float64(cfg.RatePerMin) / 60.0)
	return &Telegram{
		cfg:     cfg,
		bot:     b,
		limiter: rate.NewLimiter(perSec, 3),
		log:     cfg.Logger,
	}, nil
}

// Send delivers text with HTML parse mode. Failures are logged and
// swallowed; rate-limited messages wait unless the context ends first.
func (t *Telegram) Send(ctx context.Context, text string) {
	if text == "" {
		return
	}

	wctx, cancel := context.WithTimeout(ctx, t.cfg.SendTimeout)
	defer cancel()

	if err := t.limiter.Wait(wctx); err != nil {
		t.log.Warn("notify: rate limit wait aborted", "error", err)
		return
	}

	_, err := t.bot.Send(tele.ChatID(t.cfg.ChatID), text, &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		t.log.Warn("notify: telegram send failed",
			"chat_id", t.cfg.ChatID, "error", err)
		return
	}
	t.log.Debug("notify: sent", "chat_id", t.cfg.ChatID, "len", len(text))
}
