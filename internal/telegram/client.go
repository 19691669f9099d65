// Package telegram delivers batch validation reports via the Telegram Bot API.
// Reports are formatted as MarkdownV2 and sent with a simple linear retry.
package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/rewired-gh/pricecheck/internal/validator"
)

// defaultTopN is how many best and worst SKUs a report lists.
const defaultTopN = 5

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	topN           int
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newClient(bot, chatID, maxRetries, retryDelayBase)
}

func newClient(bot sender, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		topN:           defaultTopN,
	}, nil
}

// Send delivers a batch report.
func (c *Client) Send(report *validator.BatchReport) error {
	return c.send(c.formatReport(report))
}

// SendError reports a failed scheduled run.
func (c *Client) SendError(job string, err error) error {
	message := fmt.Sprintf("❌ *%s failed*\n\n%s", escapeMarkdownV2(job), escapeMarkdownV2(err.Error()))
	return c.send(message)
}

// SendRecovery reports that a job succeeded again after failing.
func (c *Client) SendRecovery(job string, failures int) error {
	message := fmt.Sprintf("✅ *%s recovered* after %s",
		escapeMarkdownV2(job), escapeMarkdownV2(humanize.Comma(int64(failures))+" failed runs"))
	return c.send(message)
}

func (c *Client) send(message string) error {
	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatReport renders a batch report as a MarkdownV2 message.
func (c *Client) formatReport(r *validator.BatchReport) string {
	var b strings.Builder

	b.WriteString("📊 *Price Change Forecast Validation*\n\n")
	fmt.Fprintf(&b, "📅 Date: %s, horizon %s\n",
		escapeMarkdownV2(r.PredictionDate.String()), escapeMarkdownV2(pluralDays(r.Step)))
	fmt.Fprintf(&b, "⚙️ Thresholds: probability \\> %s, change \\> %s\n\n",
		escapeMarkdownV2(strconv.FormatFloat(r.Params.ProbabilityThreshold, 'f', -1, 64)),
		escapeMarkdownV2(formatPercent(r.Params.ChangeThreshold)))

	if acc, ok := r.Overall.Get(); ok {
		fmt.Fprintf(&b, "✅ Overall accuracy: *%s* \\(%s of %s days\\)\n",
			escapeMarkdownV2(formatPercent(acc)),
			escapeMarkdownV2(humanize.Comma(int64(r.CorrectCount))),
			escapeMarkdownV2(humanize.Comma(int64(r.TotalCompared))))
	} else {
		b.WriteString("❔ Overall accuracy: *unknown* \\(no comparable days\\)\n")
	}
	fmt.Fprintf(&b, "📦 SKUs: %s validated, %s failed\n",
		escapeMarkdownV2(humanize.Comma(int64(len(r.Results)))),
		escapeMarkdownV2(humanize.Comma(int64(len(r.Errors)))))

	known := knownResults(r.Results)
	if len(known) > 0 {
		top := known
		if len(top) > c.topN {
			top = top[:c.topN]
		}
		b.WriteString("\n🏆 *Best*\n")
		writeRows(&b, top)

		if len(known) > c.topN {
			bottom := known[len(known)-min(c.topN, len(known)-c.topN):]
			b.WriteString("\n📉 *Worst*\n")
			writeRows(&b, reversed(bottom))
		}
	}

	if len(r.Errors) > 0 {
		b.WriteString("\n⚠️ *Failed*\n")
		for i, e := range r.Errors {
			if i == c.topN {
				fmt.Fprintf(&b, "   …and %s more\n", escapeMarkdownV2(humanize.Comma(int64(len(r.Errors)-c.topN))))
				break
			}
			fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(e.SKUID))
		}
	}

	fmt.Fprintf(&b, "\n🆔 %s", escapeMarkdownV2(shortID(r.RunID)))
	return b.String()
}

func writeRows(b *strings.Builder, rows []validator.SKUResult) {
	for i, row := range rows {
		acc, _ := row.Accuracy.Get()
		fmt.Fprintf(b, "%d\\. %s: *%s* \\(%s\\)\n",
			i+1,
			escapeMarkdownV2(row.SKUID),
			escapeMarkdownV2(formatPercent(acc)),
			escapeMarkdownV2(pluralDays(row.Stats().TotalCompared)))
	}
}

// knownResults returns results with a known accuracy, preserving report order
// (accuracy descending).
func knownResults(results []validator.SKUResult) []validator.SKUResult {
	var out []validator.SKUResult
	for _, r := range results {
		if r.Accuracy.IsKnown() {
			out = append(out, r)
		}
	}
	return out
}

func reversed(rows []validator.SKUResult) []validator.SKUResult {
	out := make([]validator.SKUResult, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = r
	}
	return out
}

func formatPercent(v float64) string {
	return humanize.FtoaWithDigits(v*100, 1) + "%"
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return humanize.Comma(int64(n)) + " days"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . ! \
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
