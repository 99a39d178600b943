package notify

// Sweep notifications for the operator's Telegram chat

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"electrum-sweeper/internal/infra/log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// SweepEvent describes one issued sweep. Unverified means electrum did not
// confirm the broadcast.
type SweepEvent struct {
	Key        string // already redacted
	Target     string
	TxID       string
	DryRun     bool
	Unverified bool
	At         time.Time
}

// Telegram posts a message per sweep
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	return NewTelegramWithEndpoint(token, chatID, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
}

// NewTelegramWithEndpoint is NewTelegram against a custom Bot API server
func NewTelegramWithEndpoint(token string, chatID int64, endpoint string, client *http.Client) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, client)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize telegram bot: %w", err)
	}
	log.LogSuccess("Telegram bot authorized", zap.String("username", bot.Self.UserName))
	return &Telegram{bot: bot, chatID: chatID}, nil
}

func (t *Telegram) NotifySweep(ctx context.Context, ev SweepEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, FormatSweepMessage(ev))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	return nil
}

// FormatSweepMessage renders ev as Telegram HTML
func FormatSweepMessage(ev SweepEvent) string {
	var b strings.Builder
	switch {
	case ev.DryRun:
		b.WriteString("🔎 <b>Funded key detected (dry run)</b>\n")
	case ev.Unverified:
		b.WriteString("⚠️ <b>Sweep issued, broadcast not confirmed</b>\n")
	default:
		b.WriteString("💸 <b>Sweep broadcast</b>\n")
	}
	fmt.Fprintf(&b, "Key: <code>%s</code>\n", html.EscapeString(ev.Key))
	fmt.Fprintf(&b, "Target: <code>%s</code>\n", html.EscapeString(ev.Target))
	if ev.TxID != "" {
		fmt.Fprintf(&b, "Tx: <code>%s</code>\n", html.EscapeString(ev.TxID))
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "Time: %s", ev.At.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	return strings.TrimRight(b.String(), "\n")
}
