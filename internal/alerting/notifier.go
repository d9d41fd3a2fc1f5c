package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TelegramNotifier pushes alert messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify delivers the alert via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().
		Str("ratio", note.Ratio.StringFixed(4)).
		Str("account", note.Account.Hex()).
		Msg("alert delivered via telegram")
	return nil
}

func renderMessage(note Notification) string {
	hundred := decimal.NewFromInt(100)

	builder := strings.Builder{}
	builder.WriteString("LIQUIDATION ALERT\n\n")
	builder.WriteString(fmt.Sprintf("Account: %s\n", note.Account.Hex()))
	builder.WriteString(fmt.Sprintf("Supply token: %s (decimals: %d)\n", note.SupplyToken.Hex(), note.SupplyDecimals))
	builder.WriteString(fmt.Sprintf("Borrow token: %s (decimals: %d)\n\n", note.BorrowToken.Hex(), note.BorrowDecimals))
	if note.Undercollateralized {
		builder.WriteString("Position has debt against zero collateral value.\n")
	} else {
		builder.WriteString(fmt.Sprintf("Borrowed value is %s%% of supplied value (threshold %s%%).\n",
			note.Ratio.Mul(hundred).StringFixed(2), note.Threshold.Mul(hundred).StringFixed(0)))
	}
	builder.WriteString(fmt.Sprintf("Supplied: $%s\n", note.SuppliedUSD.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Borrowed: $%s\n\n", note.BorrowedUSD.StringFixed(2)))
	builder.WriteString("Your position is in liquidation range. Consider:\n")
	builder.WriteString("- Repaying some debt\n")
	builder.WriteString("- Adding more collateral\n")
	builder.WriteString("- Closing the position\n")
	if !note.ComputedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("\nComputed: %s\n", note.ComputedAt.UTC().Format(time.RFC3339)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
