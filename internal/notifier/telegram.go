// Package notifier delivers run summaries to a Telegram chat. It is send-only;
// the bot never polls for updates.
package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbot "github.com/go-telegram/bot"

	"github.com/newstate/reactor/internal/config"
	"github.com/newstate/reactor/internal/pipeline"
)

const sendMessageTimeout = 30 * time.Second

// Notifier posts run digests to a configured Telegram chat. A disabled
// notifier is valid and drops everything.
type Notifier struct {
	logger *slog.Logger
	bot    *tgbot.Bot
	chatID int64
}

// New creates the notifier. When cfg.Enabled is false no Telegram client is
// created and NotifyRun becomes a no-op.
func New(logger *slog.Logger, cfg config.TelegramConfig) (*Notifier, error) {
	n := &Notifier{
		logger: logger.With("component", "notifier"),
		chatID: cfg.ChatID,
	}
	if !cfg.Enabled {
		n.logger.Info("Telegram notifier disabled")
		return n, nil
	}

	b, err := tgbot.New(cfg.Token, tgbot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	n.bot = b

	n.logger.Info("Telegram notifier enabled", "chat_id", cfg.ChatID)
	return n, nil
}

// NotifyRun sends the run digest. Delivery failures are logged, never fatal;
// a run's results are already durable by the time this is called.
func (n *Notifier) NotifyRun(ctx context.Context, summary *pipeline.RunSummary) {
	if n.bot == nil {
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendMessageTimeout)
	defer cancel()

	_, err := n.bot.SendMessage(sendCtx, &tgbot.SendMessageParams{
		ChatID: n.chatID,
		Text:   formatRunMessage(summary),
	})
	if err != nil {
		n.logger.ErrorContext(ctx, "Failed to send run digest",
			"run_id", summary.RunID, "error", err)
		return
	}

	n.logger.InfoContext(ctx, "Run digest sent", "run_id", summary.RunID, "chat_id", n.chatID)
}

// formatRunMessage renders the digest as plain text. Post bodies are
// truncated so a busy run stays within Telegram's message limit.
func formatRunMessage(summary *pipeline.RunSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run %s (%s lane) finished\n", summary.RunID, summary.Lane)
	fmt.Fprintf(&b, "New posts: %d, new reactions: %d, skipped: %d, dropped: %d\n",
		summary.NewPosts, summary.NewReactions, summary.SkippedPosts, summary.DroppedItems)
	if summary.FetchErrors > 0 {
		fmt.Fprintf(&b, "Fetch errors: %d\n", summary.FetchErrors)
	}
	if summary.CategoryDefaulted > 0 {
		fmt.Fprintf(&b, "Categories defaulted: %d\n", summary.CategoryDefaulted)
	}

	for _, post := range summary.Digest {
		fmt.Fprintf(&b, "\n%s: %s\n%s\n", post.PostAuthor, truncate(post.PostText, 200), post.PostURL)
		for _, r := range post.Reactions {
			fmt.Fprintf(&b, "- %s: %s\n", r.Author, truncate(r.Text, 300))
		}
	}

	return b.String()
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
