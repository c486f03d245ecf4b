// Package telegram provides a client for sending notifications via Telegram Bot API.
// It formats ranked pet upgrade opportunities into human-readable messages and
// handles delivery with retry logic for reliability.
//
// The client supports Markdown formatting and includes error handling for
// common Telegram API issues like rate limiting and network failures.
package telegram

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"skyprofit/internal/models"
)

// Client handles Telegram notifications
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

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
	}, nil
}

// Send sends a notification with the top-ranked upgrade cards
func (c *Client) Send(cards []models.UpgradeCard) error {
	message := c.formatMessage(cards)

	msg := tgbotapi.NewMessage(c.chatID, message)
	msg.ParseMode = "MarkdownV2" // Use MarkdownV2 for better escaping support

	// Send with retry
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats upgrade cards into a Telegram message
func (c *Client) formatMessage(cards []models.UpgradeCard) string {
	message := "💰 *Top Kat Upgrade Opportunities*\n\n"
	dateStr := escapeMarkdownV2(time.Now().Format("2006-01-02 15:04:05"))
	message += fmt.Sprintf("📅 Scanned: %s\n\n", dateStr)

	for i, card := range cards {
		name := escapeMarkdownV2(card.Recipe.Name)
		chain := escapeMarkdownV2(fmt.Sprintf("%s → %s", card.StartRarity, card.EndRarity))

		profitEmoji := "📈"
		if card.Profit < 0 {
			profitEmoji = "📉"
		}

		profitStr := escapeMarkdownV2(formatCoins(card.Profit) + " coins")
		costStr := escapeMarkdownV2(formatCoins(card.TotalCost))
		hoursStr := escapeMarkdownV2(formatHours(card.ReducedHours))

		message += fmt.Sprintf("%d\\. *%s* \\(%s\\)\n", i+1, name, chain)
		message += fmt.Sprintf("   %s Profit: *%s*\n", profitEmoji, profitStr)
		message += fmt.Sprintf("   💸 Cost: %s\n", costStr)
		message += fmt.Sprintf("   ⏱ Duration: %s\n", hoursStr)

		if len(card.UnknownItems) > 0 {
			message += fmt.Sprintf("   ⚠️ Unpriced items: %s\n", escapeMarkdownV2(strconv.Itoa(len(card.UnknownItems))))
		}
		message += "\n"
	}

	return message
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	// Note: We escape all of them with \ prefix

	result := ""
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			result += "\\" + string(char)
		default:
			result += string(char)
		}
	}
	return result
}

// formatCoins renders a coin amount with thousands separators
func formatCoins(amount float64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	digits := strconv.FormatFloat(amount, 'f', 0, 64)
	var out []byte
	for i, d := range []byte(digits) {
		if i > 0 && (len(digits)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, d)
	}
	return sign + string(out)
}

// formatHours formats a duration in hours in a human-readable way
func formatHours(hours float64) string {
	if hours >= 24 {
		days := int(hours / 24)
		rem := int(hours) % 24
		if rem == 0 {
			return fmt.Sprintf("%dd", days)
		}
		return fmt.Sprintf("%dd %dh", days, rem)
	}
	if hours >= 1 {
		return fmt.Sprintf("%.1fh", hours)
	}
	return fmt.Sprintf("%dm", int(hours*60))
}
