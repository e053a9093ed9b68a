package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"trading-analyzer/internal/model"
)

const telegramAPI = "https://api.telegram.org"

// TelegramNotifier posts signals and incidents to one Telegram chat through
// the Bot API sendMessage method.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

// NewTelegramNotifier creates a notifier for chatID using botToken.
func NewTelegramNotifier(botToken, chatID string) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  telegramAPI,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send formats alert as MarkdownV2. Alerts carrying a signal get a signal
// card; everything else is sent as title and message.
func (t *TelegramNotifier) Send(ctx context.Context, alert Alert) error {
	text := incidentText(alert)
	if alert.Signal != nil {
		text = signalText(*alert.Signal)
	}
	if err := t.sendMessage(ctx, text); err != nil {
		return err
	}
	log.Debug().Str("component", "telegram").Str("title", alert.Title).Msg("message sent")
	return nil
}

func (t *TelegramNotifier) sendMessage(ctx context.Context, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: t.chatID, Text: text, ParseMode: "MarkdownV2"})
	if err != nil {
		return fmt.Errorf("telegram: encode: %w", err)
	}
	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	var out sendMessageResponse
	if json.NewDecoder(resp.Body).Decode(&out) == nil && out.Description != "" {
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, out.Description)
	}
	return fmt.Errorf("telegram: unexpected status %d", resp.StatusCode)
}

// signalText renders a signal as a card:
//
//	🟢 *BUY BTC\-USDT* · STRONG
//	price `64250.5`
//	at 2024\-03\-01 10:00 UTC
//	_RSI\_DUAL\_TF_ · id `sig-1`
func signalText(sig model.Signal) string {
	marker := "🟢"
	if sig.Operation == model.OperationSell {
		marker = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s *%s %s* · %s\n", marker,
		escapeMarkdown(string(sig.Operation)), escapeMarkdown(sig.Instrument), escapeMarkdown(string(sig.Level)))
	fmt.Fprintf(&b, "price `%s`\n", escapeCode(sig.Price.String()))
	fmt.Fprintf(&b, "at %s\n", escapeMarkdown(sig.Time.UTC().Format("2006-01-02 15:04 MST")))
	fmt.Fprintf(&b, "_%s_ · id `%s`", escapeMarkdown(string(sig.Strategy)), escapeCode(sig.ID))
	return b.String()
}

func incidentText(alert Alert) string {
	marker := "ℹ️"
	switch alert.Level {
	case AlertWarning:
		marker = "⚠️"
	case AlertCritical:
		marker = "🚨"
	}
	return fmt.Sprintf("%s *%s*\n\n%s", marker, escapeMarkdown(alert.Title), escapeMarkdown(alert.Message))
}

var (
	markdownEscaper = strings.NewReplacer(
		`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
		"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`, "=", `\=`,
		"|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
	)
	codeEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")
)

// escapeMarkdown escapes text outside code spans for MarkdownV2.
func escapeMarkdown(s string) string { return markdownEscaper.Replace(s) }

// escapeCode escapes text inside a `code` span, where only ` and \ are special.
func escapeCode(s string) string { return codeEscaper.Replace(s) }
